// SPDX-License-Identifier: MIT

package daemon

import "errors"

// Sentinel errors for dependency validation and lifecycle misuse. Callers
// match these with errors.Is.
var (
	ErrMissingLogger     = errors.New("logger is required")
	ErrMissingAPIHandler = errors.New("API handler is required")
	ErrMissingManager    = errors.New("manager is required")
	ErrManagerNotStarted = errors.New("manager not started")
)
