package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"recsignal/internal/models"
)

// ErrValidation marks a payload the engine refuses before touching the store.
var ErrValidation = errors.New("invalid submission")

// ReadingInput is one reading of a Submission.
type ReadingInput struct {
	MetricType models.MetricType
	Value      float64
	Label      string
	Timestamp  time.Time // zero means now
}

// Submission is one agent batch for one server.
type Submission struct {
	Hostname    string
	Environment models.Environment
	ServerType  models.ServerType
	Readings    []ReadingInput
}

// BatchResult summarizes a committed batch.
type BatchResult struct {
	ServerID      int64
	StoredCount   int
	AlertsCreated int
}

// SubmissionFromPayload validates an agent payload and converts it.
func SubmissionFromPayload(p models.MetricPayload) (Submission, error) {
	hostname := strings.TrimSpace(p.Hostname)
	if hostname == "" {
		return Submission{}, fmt.Errorf("%w: hostname is required", ErrValidation)
	}
	env, err := models.ParseEnvironment(p.Environment)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	typ, err := models.ParseServerType(p.ServerType)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sub := Submission{Hostname: hostname, Environment: env, ServerType: typ}
	for i, m := range p.Metrics {
		mt, err := models.ParseMetricType(m.MetricType)
		if err != nil {
			return Submission{}, fmt.Errorf("%w: metrics[%d]: %v", ErrValidation, i, err)
		}
		if m.Value == nil {
			return Submission{}, fmt.Errorf("%w: metrics[%d]: value is required", ErrValidation, i)
		}
		in := ReadingInput{MetricType: mt, Value: *m.Value, Label: m.Label}
		if m.Timestamp != nil {
			in.Timestamp = m.Timestamp.UTC()
		}
		sub.Readings = append(sub.Readings, in)
	}
	return sub, nil
}

func (s Submission) validate() error {
	if s.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrValidation)
	}
	if !s.Environment.Valid() {
		return fmt.Errorf("%w: unknown environment %q", ErrValidation, s.Environment)
	}
	if s.ServerType != models.ServerUnix && s.ServerType != models.ServerOracle {
		return fmt.Errorf("%w: unknown server type %q", ErrValidation, s.ServerType)
	}
	for i, r := range s.Readings {
		if !r.MetricType.Valid() {
			return fmt.Errorf("%w: readings[%d]: unknown metric type %q", ErrValidation, i, r.MetricType)
		}
	}
	return nil
}

// alertKeys returns the distinct tuples the batch touches.
func (s Submission) alertKeys(serverID int64) []models.AlertKey {
	seen := make(map[models.AlertKey]bool, len(s.Readings))
	var keys []models.AlertKey
	for _, r := range s.Readings {
		k := models.AlertKey{ServerID: serverID, Metric: r.MetricType, Label: r.Label}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
