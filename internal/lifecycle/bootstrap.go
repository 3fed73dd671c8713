package lifecycle

import (
	"log/slog"
	"time"
)

// Skip reasons returned when a bootstrap attempt is refused.
const (
	SkipReasonCircuitTripped = "circuit_breaker_tripped"
	SkipReasonCooldownActive = "cooldown_active"
)

// BootstrapPolicy decides whether a source with an empty store may trigger
// an expensive full re-collection. It is a retry policy governed by the
// historical outcome streak plus a cooldown window, evaluated against the
// persisted run-report history rather than in-process state, so a restart
// does not reset the breaker.
type BootstrapPolicy struct {
	maxConsecutiveFailures int
	cooldown               time.Duration
	logger                 *slog.Logger
}

// BootstrapDecision is the outcome of one policy evaluation.
type BootstrapDecision struct {
	Proceed    bool
	SkipReason string
}

// NewBootstrapPolicy creates a policy, filling in defaults for zero values.
func NewBootstrapPolicy(maxConsecutiveFailures int, cooldown time.Duration) *BootstrapPolicy {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 6 * time.Hour
	}
	return &BootstrapPolicy{
		maxConsecutiveFailures: maxConsecutiveFailures,
		cooldown:               cooldown,
		logger:                 slog.Default().With("component", "bootstrap-policy"),
	}
}

// Decide walks reports (most recent first) and refuses the attempt when the
// consecutive bootstrap-failure streak has reached the threshold or the most
// recent bootstrap attempt is still inside the cooldown window. The caller
// must record the outcome of any attempt it makes, so the next evaluation
// sees accurate history.
func (p *BootstrapPolicy) Decide(reports []RunReport, now time.Time) BootstrapDecision {
	streak := 0
	for _, r := range reports {
		if !r.IsBootstrap() {
			break
		}
		if r.Status != RunFail {
			break
		}
		streak++
	}
	if streak >= p.maxConsecutiveFailures {
		p.logger.Warn("bootstrap refused, failure streak at threshold",
			"streak", streak,
			"threshold", p.maxConsecutiveFailures,
		)
		return BootstrapDecision{SkipReason: SkipReasonCircuitTripped}
	}

	for _, r := range reports {
		if !r.IsBootstrap() {
			continue
		}
		if since := now.Sub(r.CreatedAt); since < p.cooldown {
			p.logger.Info("bootstrap refused, cooldown active",
				"since_last_attempt", since,
				"cooldown", p.cooldown,
			)
			return BootstrapDecision{SkipReason: SkipReasonCooldownActive}
		}
		break
	}

	return BootstrapDecision{Proceed: true}
}
