package model

// RouteMode selects how RouteTable entries are interpreted.
type RouteMode string

const (
	RouteModeDefault       RouteMode = "default"
	RouteModeModelMapping  RouteMode = "model-mapping"
	RouteModeConfigMapping RouteMode = "config-mapping"
)

// SourceType distinguishes what a ModelMapping's Source matches against.
type SourceType string

const (
	SourceTypeModel  SourceType = "model"
	SourceTypeConfig SourceType = "config"
)

// ModelMapping rewrites an incoming model name to an upstream-facing one.
type ModelMapping struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	SourceType SourceType `json:"source_type"`
}

// ConfigMapping pins a model name to a specific upstream config.
type ConfigMapping struct {
	Model  string `json:"model"`
	Config string `json:"config"`
}

// RouteTable is the single routing.json document, shared across families.
type RouteTable struct {
	Mode           RouteMode                  `json:"mode"`
	ModelMappings  map[string][]ModelMapping  `json:"modelMappings,omitempty"`
	ConfigMappings map[string][]ConfigMapping `json:"configMappings,omitempty"`
}

// ResolveModel applies the first matching model-mapping entry for family, in
// declared order. Returns the target and true if a mapping applied.
func (t *RouteTable) ResolveModel(family, incoming string) (string, bool) {
	for _, m := range t.ModelMappings[family] {
		if m.SourceType == SourceTypeModel && m.Source == incoming {
			return m.Target, true
		}
	}
	return incoming, false
}

// ResolveConfig returns the pinned config name for incoming, if
// Mode == config-mapping and a mapping matches.
func (t *RouteTable) ResolveConfig(family, incoming string) (string, bool) {
	if t.Mode != RouteModeConfigMapping {
		return "", false
	}
	for _, m := range t.ConfigMappings[family] {
		if m.Model == incoming {
			return m.Config, true
		}
	}
	return "", false
}
