package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Result labels shared by the domain counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics holds the domain counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	logins            *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	revocations       prometheus.Counter
	recoveryAttempts  *prometheus.CounterVec
	revocationLookups *prometheus.CounterVec
}

// NewMetrics registers the counters with reg, reusing collectors that already exist.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	logins, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts partitioned by result.",
	}, "result")
	if err != nil {
		return nil, err
	}

	refreshes, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refreshes_total",
		Help:      "Refresh attempts partitioned by result.",
	}, "result")
	if err != nil {
		return nil, err
	}

	recovery, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_attempts_total",
		Help:      "Recovery answer submissions partitioned by result.",
	}, "result")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revocation_lookups_total",
		Help:      "Revocation registry lookups partitioned by result.",
	}, "result")
	if err != nil {
		return nil, err
	}

	revocations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revocations_total",
		Help:      "Access tokens revoked by logout or credential change.",
	})
	if err := reg.Register(revocations); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register revocations collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing revocations collector has unexpected type %T", already.ExistingCollector)
		}
		revocations = existing
	}

	return &Metrics{
		logins:            logins,
		refreshes:         refreshes,
		revocations:       revocations,
		recoveryAttempts:  recovery,
		revocationLookups: lookups,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return existing, nil
	}
	return vec, nil
}

func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRevocation() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

func (m *Metrics) ObserveRecovery(result string) {
	if m == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(result).Inc()
}

// ObserveRevocationLookup counts registry checks, including backend errors.
func (m *Metrics) ObserveRevocationLookup(result string) {
	if m == nil {
		return
	}
	m.revocationLookups.WithLabelValues(result).Inc()
}
