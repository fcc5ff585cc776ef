// Package upstream selects which configured upstream serves a given request
// and tracks config health so repeatedly failing upstreams get excluded from
// selection.
package upstream

import (
	"math/rand"

	"clproxy/internal/errs"
	"clproxy/internal/model"
)

// SelectInput bundles everything Select needs to resolve one request to a
// config. Configs is the family's full document from ConfigStore; Policy is
// the family's LoadBalancePolicy; RouteTable may be nil if no routing
// document is configured.
type SelectInput struct {
	Family         string
	Configs        model.FamilyDocument
	Policy         *model.LoadBalancePolicy
	RouteTable     *model.RouteTable
	RequestedModel string
}

// Select runs the selection protocol: exclude evicted configs, narrow to a
// single config under config-mapping routing, then apply the
// LoadBalancePolicy mode.
func Select(in SelectInput) (*model.UpstreamConfig, error) {
	svc := in.Policy.ServiceFor(in.Family)

	eligible := make([]*model.UpstreamConfig, 0, len(in.Configs))
	for _, cfg := range in.Configs {
		if svc.IsExcluded(cfg.Name) {
			continue
		}
		eligible = append(eligible, cfg)
	}

	if in.RouteTable != nil && in.RouteTable.Mode == model.RouteModeConfigMapping {
		if name, ok := in.RouteTable.ResolveConfig(in.Family, in.RequestedModel); ok {
			if svc.IsExcluded(name) {
				return nil, errs.New(errs.KindUpstreamUnavail, "pinned config "+name+" is excluded", nil)
			}
			cfg, ok := in.Configs[name]
			if !ok {
				return nil, errs.New(errs.KindUpstreamUnavail, "pinned config "+name+" not found", nil)
			}
			return cfg, nil
		}
	}

	if len(eligible) == 0 {
		return nil, errs.New(errs.KindUpstreamUnavail, "no eligible upstream configs for "+in.Family, nil)
	}

	switch in.Policy.Mode {
	case model.LBModeWeightBased:
		return selectWeighted(eligible)
	default:
		return selectActiveFirst(eligible)
	}
}

func selectActiveFirst(eligible []*model.UpstreamConfig) (*model.UpstreamConfig, error) {
	for _, cfg := range eligible {
		if cfg.Active {
			return cfg, nil
		}
	}
	return nil, errs.New(errs.KindNoActive, "no active upstream config", nil)
}

// selectWeighted picks among eligible by weighted random, weight =
// max(config.weight, 1). Entries with weight 0 are left out unless every
// entry has weight 0, in which case it falls back to uniform random across
// all of them.
func selectWeighted(eligible []*model.UpstreamConfig) (*model.UpstreamConfig, error) {
	total := 0
	allZero := true
	for _, cfg := range eligible {
		if cfg.Weight > 0 {
			allZero = false
		}
	}

	weights := make([]int, len(eligible))
	for i, cfg := range eligible {
		w := cfg.EffectiveWeight()
		if allZero {
			w = 1
		} else if cfg.Weight <= 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}

	pick := rand.Intn(total)
	for i, w := range weights {
		if pick < w {
			return eligible[i], nil
		}
		pick -= w
	}
	// Unreachable given total > 0, but keep the compiler and callers honest.
	return eligible[len(eligible)-1], nil
}
