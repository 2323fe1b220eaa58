package models

import (
	"fmt"
	"strings"
	"time"
)

// MetricType identifies what a reading measures.
type MetricType string

const (
	MetricDiskUsage          MetricType = "DISK_USAGE"
	MetricInodeUsage         MetricType = "INODE_USAGE"
	MetricMemoryUsage        MetricType = "MEMORY_USAGE"
	MetricCPULoad            MetricType = "CPU_LOAD"
	MetricTablespaceUsage    MetricType = "TABLESPACE_USAGE"
	MetricBlockingSessions   MetricType = "BLOCKING_SESSIONS"
	MetricLongRunningQueries MetricType = "LONG_RUNNING_QUERIES"
)

// MetricTypes lists every metric type the engine accepts.
var MetricTypes = []MetricType{
	MetricDiskUsage,
	MetricInodeUsage,
	MetricMemoryUsage,
	MetricCPULoad,
	MetricTablespaceUsage,
	MetricBlockingSessions,
	MetricLongRunningQueries,
}

// Valid reports whether m is a known metric type.
func (m MetricType) Valid() bool {
	for _, known := range MetricTypes {
		if m == known {
			return true
		}
	}
	return false
}

// Unit is appended to values when rendering alert messages.
func (m MetricType) Unit() string {
	switch m {
	case MetricBlockingSessions, MetricLongRunningQueries:
		return ""
	default:
		return "%"
	}
}

// ParseMetricType accepts any letter case.
func ParseMetricType(s string) (MetricType, error) {
	m := MetricType(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown metric type %q", s)
	}
	return m, nil
}

// Environment is the deployment stage a server belongs to.
type Environment string

const (
	EnvDev  Environment = "DEV"
	EnvUAT  Environment = "UAT"
	EnvProd Environment = "PROD"
)

var Environments = []Environment{EnvDev, EnvUAT, EnvProd}

func (e Environment) Valid() bool {
	return e == EnvDev || e == EnvUAT || e == EnvProd
}

func ParseEnvironment(s string) (Environment, error) {
	e := Environment(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown environment %q", s)
	}
	return e, nil
}

// Reading is one numeric sample reported by an agent. Label carries the
// mount point or tablespace name; empty means the reading is server wide.
type Reading struct {
	ID         int64      `json:"id"`
	ServerID   int64      `json:"server_id"`
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Label      string     `json:"label,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ReadingFilter narrows reading history queries.
type ReadingFilter struct {
	ServerID   int64
	MetricType MetricType
	Since      time.Time
	Limit      int
}
