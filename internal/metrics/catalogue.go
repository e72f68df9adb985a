// Package metrics exposes HAProxy's live stats as a Prometheus text
// exposition endpoint: a fixed catalogue of metric definitions is matched
// against "show stat" columns and rendered with component and instance
// labels.
package metrics

import "strconv"

// MetricType is a Prometheus exposition-format metric type.
type MetricType string

const (
	TypeGauge   MetricType = "gauge"
	TypeCounter MetricType = "counter"
)

// Modifier converts a raw CSV field value into the value actually
// exported. identity leaves it untouched; msToSeconds and statusToGauge
// cover the two conversions the catalogue needs.
type Modifier func(raw string) (float64, bool)

func identity(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// msToSeconds converts a millisecond duration field (e.g. check_duration)
// to seconds, matching Prometheus's base-unit convention.
func msToSeconds(raw string) (float64, bool) {
	v, ok := identity(raw)
	if !ok {
		return 0, false
	}
	return v / 1000, true
}

// statusToGauge converts HAProxy's textual status column to 1 (UP) or 0
// (anything else).
func statusToGauge(raw string) (float64, bool) {
	if raw == "UP" {
		return 1, true
	}
	return 0, true
}

// Def is one metric in the catalogue: a HAProxy stats column bound to a
// Prometheus name, type, and optional value conversion.
type Def struct {
	Column   string // HAProxy CSV column name, e.g. "scur"
	Name     string // metric name suffix, appended to "loadbalancer_<component>_"
	Help     string
	Type     MetricType
	Modifier Modifier
}

// Catalogue lists every metric the endpoint exports. Columns absent from
// a particular row's component (e.g. "qcur" on a frontend row) are simply
// skipped — HAProxy leaves those fields empty on rows where they don't
// apply.
var Catalogue = []Def{
	{Column: "scur", Name: "sessions_current", Help: "Current number of sessions.", Type: TypeGauge, Modifier: identity},
	{Column: "smax", Name: "sessions_max", Help: "Maximum observed number of sessions.", Type: TypeGauge, Modifier: identity},
	{Column: "stot", Name: "sessions_total", Help: "Total number of sessions.", Type: TypeCounter, Modifier: identity},
	{Column: "bin", Name: "bytes_in_total", Help: "Total bytes received.", Type: TypeCounter, Modifier: identity},
	{Column: "bout", Name: "bytes_out_total", Help: "Total bytes sent.", Type: TypeCounter, Modifier: identity},
	{Column: "ereq", Name: "request_errors_total", Help: "Total request errors.", Type: TypeCounter, Modifier: identity},
	{Column: "econ", Name: "connection_errors_total", Help: "Total connection errors.", Type: TypeCounter, Modifier: identity},
	{Column: "eresp", Name: "response_errors_total", Help: "Total response errors.", Type: TypeCounter, Modifier: identity},
	{Column: "qcur", Name: "queue_current", Help: "Current number of queued requests.", Type: TypeGauge, Modifier: identity},
	{Column: "qmax", Name: "queue_max", Help: "Maximum observed queue length.", Type: TypeGauge, Modifier: identity},
	{Column: "check_duration", Name: "check_duration_seconds", Help: "Duration of the last health check.", Type: TypeGauge, Modifier: msToSeconds},
	{Column: "status", Name: "up", Help: "Whether the entity is UP (1) or not (0).", Type: TypeGauge, Modifier: statusToGauge},
}

// Component names HAProxy's "type" column codes.
var componentNames = map[string]string{
	"0": "frontend",
	"1": "backend",
	"2": "server",
}

// ComponentName returns the metric-name component segment for a HAProxy
// row type code, or "" if typeCode is unrecognized.
func ComponentName(typeCode string) string {
	return componentNames[typeCode]
}
