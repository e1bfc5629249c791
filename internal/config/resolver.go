package config

import (
	"slices"
	"strings"
)

// Resolve returns the configured module IDs in load order. Modules are
// grouped into tiers reflecting the service-registry dependencies between
// them: stores publish "store.jobs" before the dispatcher needs it, the
// delivery router exists before channels register with it, and the gateway
// comes last since it binds everything. Within a tier, IDs sort
// alphabetically for deterministic loading.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if ta, tb := loadTier(a), loadTier(b); ta != tb {
			return ta - tb
		}
		return strings.Compare(a, b)
	})
	return ids
}

func loadTier(id string) int {
	switch {
	case hasNamespace(id, "store"):
		return 0
	case id == "delivery.router":
		return 1
	case hasNamespace(id, "delivery"):
		return 2
	case id == "dispatch":
		return 3
	case hasNamespace(id, "gateway"):
		return 5
	default:
		return 4
	}
}

func hasNamespace(id, ns string) bool {
	return id == ns || strings.HasPrefix(id, ns+".")
}
