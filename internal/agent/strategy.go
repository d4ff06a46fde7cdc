package agent

import (
	"strings"

	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/llm"
)

// Role names a pipeline participant.
type Role string

const (
	RolePlanner Role = "planner"
	RoleCoder   Role = "coder"
	RoleTester  Role = "tester"
)

// StrategyEngine chooses the model for each role.
type StrategyEngine struct {
	registry *llm.Registry
	cfg      config.StrategyConfig
}

// NewStrategyEngine builds a strategy selector.
func NewStrategyEngine(reg *llm.Registry, cfg config.StrategyConfig) *StrategyEngine {
	return &StrategyEngine{registry: reg, cfg: cfg}
}

// ResolveModel picks the role's configured model, then the strategy default, then the registry default.
// A configured model that cannot be resolved is an error, not a silent fallback.
func (s *StrategyEngine) ResolveModel(role Role) (llm.Provider, llm.ModelRoute, error) {
	modelID := firstNonEmpty(roleModel(role, s.cfg), s.cfg.DefaultModel)
	return s.registry.Resolve(modelID)
}

func roleModel(role Role, cfg config.StrategyConfig) string {
	switch Role(strings.ToLower(string(role))) {
	case RolePlanner:
		return cfg.PlannerModel
	case RoleCoder:
		return cfg.CoderModel
	case RoleTester:
		return cfg.TesterModel
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
