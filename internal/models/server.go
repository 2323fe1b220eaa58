package models

import (
	"fmt"
	"strings"
	"time"
)

// ServerType is the kind of agent reporting for a server.
type ServerType string

const (
	ServerUnix   ServerType = "UNIX"
	ServerOracle ServerType = "ORACLE"
)

func ParseServerType(s string) (ServerType, error) {
	st := ServerType(strings.ToUpper(strings.TrimSpace(s)))
	if st != ServerUnix && st != ServerOracle {
		return "", fmt.Errorf("unknown server type %q", s)
	}
	return st, nil
}

// Server is a monitored host. Servers are registered on first ingestion.
type Server struct {
	ID          int64       `json:"id"`
	Hostname    string      `json:"hostname"`
	Environment Environment `json:"environment"`
	Type        ServerType  `json:"type"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MetricInput is one reading inside an agent payload.
type MetricInput struct {
	MetricType string     `json:"metric_type" binding:"required"`
	Value      *float64   `json:"value" binding:"required"`
	Label      string     `json:"label" binding:"max=255"`
	Timestamp  *time.Time `json:"timestamp"`
}

// MetricPayload is what Unix and Oracle agents send, over HTTP or Kafka.
type MetricPayload struct {
	Hostname    string        `json:"hostname" binding:"required,max=255"`
	Environment string        `json:"environment" binding:"required"`
	ServerType  string        `json:"server_type" binding:"required"`
	Metrics     []MetricInput `json:"metrics" binding:"dive"`
}

// IngestResponse reports the outcome of one batch submission.
type IngestResponse struct {
	ServerID        int64 `json:"server_id"`
	MetricsStored   int   `json:"metrics_stored"`
	AlertsGenerated int   `json:"alerts_generated"`
}
