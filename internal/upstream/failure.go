package upstream

import (
	"clproxy/internal/errs"
	"clproxy/internal/model"
)

// Outcome classifies how an upstream call ended, for failure accounting.
type Outcome int

const (
	// OutcomeOK is a successful response, or any response < 500.
	OutcomeOK Outcome = iota
	// OutcomeFailure is a network error or a >=500 upstream status.
	OutcomeFailure
)

// ClassifyOutcome maps a pipeline error (nil on success) to an Outcome per
// the failure-accounting rule: network errors and upstream-HTTP 5xx count;
// 4xx and client disconnects do not.
func ClassifyOutcome(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	pe, ok := err.(*errs.Error)
	if !ok {
		return OutcomeFailure
	}
	if errs.IsFailureCounted(pe.Kind, pe.Status) {
		return OutcomeFailure
	}
	return OutcomeOK
}

// FailureEvent is emitted when a config is newly excluded.
type FailureEvent struct {
	Family string
	Config string
}

// Tracker records per-(family, config) failures against a LoadBalancePolicy
// and evicts configs into excludedConfigs once they cross the threshold.
// It is a thin, stateless wrapper: all state lives in the policy document so
// it round-trips through ConfigStore.
type Tracker struct {
	onExcluded func(FailureEvent)
}

// NewTracker creates a Tracker. onExcluded, if non-nil, is called
// synchronously the moment a config crosses its threshold (ConfigExcluded
// event).
func NewTracker(onExcluded func(FailureEvent)) *Tracker {
	return &Tracker{onExcluded: onExcluded}
}

// Record applies outcome for (family, config) to policy, mutating it in
// place. Callers are responsible for persisting policy back through
// ConfigStore afterward.
func (t *Tracker) Record(policy *model.LoadBalancePolicy, family, config string, outcome Outcome) {
	svc := policy.ServiceFor(family)

	if outcome == OutcomeOK {
		return
	}

	svc.CurrentFailures[config]++
	if svc.CurrentFailures[config] < svc.Threshold() {
		return
	}
	if svc.IsExcluded(config) {
		return
	}
	svc.ExcludedConfigs = append(svc.ExcludedConfigs, config)
	if t.onExcluded != nil {
		t.onExcluded(FailureEvent{Family: family, Config: config})
	}
}

// Reset clears failure counters and exclusions for family, the operator
// "reset failures" action.
func Reset(policy *model.LoadBalancePolicy, family string) {
	svc := policy.ServiceFor(family)
	svc.CurrentFailures = map[string]int{}
	svc.ExcludedConfigs = nil
}
