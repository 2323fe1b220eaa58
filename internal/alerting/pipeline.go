package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

// Outcome describes what evaluating one reading did.
type Outcome string

const (
	OutcomeNoThreshold Outcome = "no_threshold"
	OutcomeOK          Outcome = "ok"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeCreated     Outcome = "created"
)

// Pipeline evaluates the readings of one batch for one server. It is bound
// to the batch's transaction and must not outlive it. Thresholds are
// resolved for env, the environment the batch was submitted with, which
// may differ from the one stored when the server was first registered.
type Pipeline struct {
	server   models.Server
	env      models.Environment
	resolver *Resolver
	ledger   *Ledger
	log      logrus.FieldLogger
	events   []models.AlertEvent
}

func NewPipeline(server models.Server, env models.Environment, resolver *Resolver, ledger *Ledger, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		server:   server,
		env:      env,
		resolver: resolver,
		ledger:   ledger,
		log:      log.WithFields(logrus.Fields{"server_id": server.ID, "hostname": server.Hostname}),
	}
}

// ForBatch wires a pipeline over tx with a fresh threshold cache.
func ForBatch(tx store.Tx, server models.Server, env models.Environment, ledgerOpts LedgerOptions) *Pipeline {
	resolver := NewResolver(tx.Thresholds(), NewThresholdCache())
	ledger := NewLedger(tx.Alerts(), ledgerOpts.Now, ledgerOpts.Log)
	return NewPipeline(server, env, resolver, ledger, ledgerOpts.Log)
}

// LedgerOptions carries the clock and logger shared by a batch's ledger.
type LedgerOptions struct {
	Now func() time.Time
	Log logrus.FieldLogger
}

// Evaluate runs resolve, classify and the ledger rules for one reading and
// reports whether a new alert was created.
func (p *Pipeline) Evaluate(ctx context.Context, metric models.MetricType, value float64, label string) (bool, error) {
	outcome, err := p.Assess(ctx, metric, value, label)
	if err != nil {
		return false, err
	}
	return outcome == OutcomeCreated, nil
}

// Assess is Evaluate with the detailed outcome.
func (p *Pipeline) Assess(ctx context.Context, metric models.MetricType, value float64, label string) (Outcome, error) {
	t, ok, err := p.resolver.Resolve(ctx, metric, p.env, p.server.Hostname, label)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeNoThreshold, nil
	}

	key := models.AlertKey{ServerID: p.server.ID, Metric: metric, Label: label}
	sev := Classify(value, t)
	if sev == models.SeverityOK {
		resolved, err := p.ledger.AutoResolve(ctx, key)
		if err != nil {
			return "", err
		}
		for _, a := range resolved {
			p.events = append(p.events, models.AlertEvent{Type: models.EventAutoResolved, Alert: a})
		}
		return OutcomeOK, nil
	}

	open, err := p.ledger.HasOpenAlert(ctx, key)
	if err != nil {
		return "", err
	}
	if open {
		p.log.WithFields(logrus.Fields{"metric": metric, "label": label, "severity": sev}).
			Debug("duplicate alert suppressed")
		return OutcomeSuppressed, nil
	}

	a, err := p.ledger.Create(ctx, key, sev, value, t)
	if errors.Is(err, store.ErrConflict) {
		p.log.WithFields(logrus.Fields{"metric": metric, "label": label}).
			Debug("concurrent open alert won, create skipped")
		return OutcomeSuppressed, nil
	}
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", key, err)
	}
	p.events = append(p.events, models.AlertEvent{Type: models.EventCreated, Alert: a})
	return OutcomeCreated, nil
}

// Events returns the lifecycle changes this pipeline made, in order. They
// are only real once the batch transaction commits.
func (p *Pipeline) Events() []models.AlertEvent {
	return p.events
}
