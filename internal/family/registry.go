package family

// All returns the three adapters, keyed by family name, for wiring into a
// pipeline instance per listening port.
func All() map[Name]Adapter {
	return map[Name]Adapter{
		Claude: NewClaude(),
		Codex:  NewCodex(),
		Legacy: NewLegacy(),
	}
}
