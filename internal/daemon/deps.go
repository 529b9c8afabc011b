// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/opentouch/touchstream/internal/config"
)

// Deps carries everything a Manager needs to run. Construction happens in
// cmd/daemon; the manager only validates and consumes.
type Deps struct {
	Logger zerolog.Logger

	// Config is the resolved runtime configuration.
	Config config.AppConfig

	// APIHandler serves the /api surface plus health probes.
	APIHandler http.Handler

	// MetricsHandler serves the Prometheus scrape endpoint, nil when the
	// metrics listener is disabled.
	MetricsHandler http.Handler
}

// Validate reports the first missing required dependency. The config itself
// is not re-checked; config.Loader already validated it.
func (d *Deps) Validate() error {
	switch {
	case d.Logger.GetLevel() == zerolog.Disabled:
		return ErrMissingLogger
	case d.APIHandler == nil:
		return ErrMissingAPIHandler
	}
	return nil
}
