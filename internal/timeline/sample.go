// SPDX-License-Identifier: MIT

package timeline

import (
	"github.com/opentouch/touchstream/internal/payload"
)

// Sample is one decoded event on the canonical time axis, ready for a sink
// or viewer.
type Sample struct {
	Time    float64 // seconds since recording start
	Sensor  string
	Stream  string
	Path    string // entity path, see EntityPath
	Payload payload.Sample
}

// EntityPath builds the canonical entity path for a decoded payload:
// sensors/<sensor>/<stream>, with the telemetry sub-kind appended for
// telemetry payloads so pressure, gas and imu readings land on distinct
// paths.
func EntityPath(sensor, stream string, p payload.Sample) string {
	base := "sensors/" + sensor + "/" + stream
	if t, ok := p.(payload.Telemetry); ok {
		return base + "/" + t.Subkind()
	}
	return base
}
