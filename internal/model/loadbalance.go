package model

// LBMode selects the UpstreamPool selection strategy.
type LBMode string

const (
	LBModeActiveFirst LBMode = "active-first"
	LBModeWeightBased LBMode = "weight-based"
)

const defaultFailureThreshold = 3

// ServicePolicy is the per-family slice of LoadBalancePolicy.
type ServicePolicy struct {
	FailureThreshold int             `json:"failureThreshold,omitempty"`
	CurrentFailures  map[string]int  `json:"currentFailures,omitempty"`
	ExcludedConfigs  []string        `json:"excludedConfigs,omitempty"`
}

// Threshold returns FailureThreshold, defaulting to 3 when unset.
func (s *ServicePolicy) Threshold() int {
	if s.FailureThreshold <= 0 {
		return defaultFailureThreshold
	}
	return s.FailureThreshold
}

// IsExcluded reports whether name is currently evicted.
func (s *ServicePolicy) IsExcluded(name string) bool {
	for _, n := range s.ExcludedConfigs {
		if n == name {
			return true
		}
	}
	return false
}

// LoadBalancePolicy is the single loadbalance.json document.
type LoadBalancePolicy struct {
	Mode     LBMode                    `json:"mode"`
	Services map[string]*ServicePolicy `json:"services,omitempty"`
}

// ServiceFor returns the ServicePolicy for family, creating an empty one in
// the map (but not persisting it) if absent, so callers never nil-check.
func (p *LoadBalancePolicy) ServiceFor(family string) *ServicePolicy {
	if p.Services == nil {
		p.Services = map[string]*ServicePolicy{}
	}
	svc, ok := p.Services[family]
	if !ok {
		svc = &ServicePolicy{CurrentFailures: map[string]int{}}
		p.Services[family] = svc
	}
	if svc.CurrentFailures == nil {
		svc.CurrentFailures = map[string]int{}
	}
	return svc
}
