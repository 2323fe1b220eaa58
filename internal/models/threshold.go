package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidThreshold is returned when a threshold's warning level is not
// strictly below its critical level.
var ErrInvalidThreshold = errors.New("warning threshold must be strictly less than critical threshold")

// Threshold holds the warning/critical levels for a metric in an
// environment. An empty Hostname applies to every host of the environment,
// an empty PathLabel to every label.
type Threshold struct {
	ID          int64       `json:"id"`
	MetricType  MetricType  `json:"metric_type"`
	Environment Environment `json:"environment"`
	Hostname    string      `json:"hostname"`
	PathLabel   string      `json:"path_label"`
	Warning     float64     `json:"warning_threshold"`
	Critical    float64     `json:"critical_threshold"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks a threshold before it is written.
func (t Threshold) Validate() error {
	if !t.MetricType.Valid() {
		return fmt.Errorf("unknown metric type %q", t.MetricType)
	}
	if !t.Environment.Valid() {
		return fmt.Errorf("unknown environment %q", t.Environment)
	}
	if t.Warning < 0 || t.Critical < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if t.Warning >= t.Critical {
		return ErrInvalidThreshold
	}
	return nil
}

// Level returns the configured level that sev is measured against.
func (t Threshold) Level(sev Severity) float64 {
	if sev == SeverityCritical {
		return t.Critical
	}
	return t.Warning
}

// ThresholdInput is the request body for creating or updating a threshold.
type ThresholdInput struct {
	MetricType  string   `json:"metric_type" binding:"required"`
	Environment string   `json:"environment" binding:"required"`
	Hostname    string   `json:"hostname" binding:"max=255"`
	PathLabel   string   `json:"path_label" binding:"max=255"`
	Warning     *float64 `json:"warning_threshold" binding:"required"`
	Critical    *float64 `json:"critical_threshold" binding:"required"`
}

// Threshold converts the input into a validated Threshold.
func (in ThresholdInput) Threshold() (Threshold, error) {
	mt, err := ParseMetricType(in.MetricType)
	if err != nil {
		return Threshold{}, err
	}
	env, err := ParseEnvironment(in.Environment)
	if err != nil {
		return Threshold{}, err
	}
	if in.Warning == nil || in.Critical == nil {
		return Threshold{}, fmt.Errorf("warning_threshold and critical_threshold are required")
	}
	t := Threshold{
		MetricType:  mt,
		Environment: env,
		Hostname:    in.Hostname,
		PathLabel:   in.PathLabel,
		Warning:     *in.Warning,
		Critical:    *in.Critical,
	}
	return t, t.Validate()
}

// DefaultThresholds are the global levels a fresh installation starts with.
func DefaultThresholds() []Threshold {
	type pair struct{ warn, crit float64 }
	levels := map[MetricType]map[Environment]pair{
		MetricDiskUsage:          {EnvDev: {70, 90}, EnvUAT: {70, 85}, EnvProd: {75, 90}},
		MetricInodeUsage:         {EnvDev: {70, 90}, EnvUAT: {70, 85}, EnvProd: {75, 90}},
		MetricMemoryUsage:        {EnvDev: {75, 90}, EnvUAT: {75, 90}, EnvProd: {80, 95}},
		MetricCPULoad:            {EnvDev: {70, 90}, EnvUAT: {70, 90}, EnvProd: {75, 95}},
		MetricTablespaceUsage:    {EnvDev: {75, 90}, EnvUAT: {75, 90}, EnvProd: {80, 95}},
		MetricBlockingSessions:   {EnvDev: {5, 20}, EnvUAT: {5, 20}, EnvProd: {2, 10}},
		MetricLongRunningQueries: {EnvDev: {30, 120}, EnvUAT: {30, 120}, EnvProd: {15, 60}},
	}
	var out []Threshold
	for _, m := range MetricTypes {
		for _, env := range Environments {
			p := levels[m][env]
			out = append(out, Threshold{MetricType: m, Environment: env, Warning: p.warn, Critical: p.crit})
		}
	}
	return out
}
