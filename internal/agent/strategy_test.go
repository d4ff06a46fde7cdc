package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/llm"
	llmmock "github.com/masbolt/masbolt/internal/llm/mock"
)

func TestStrategyResolvesRoles(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterProvider("p", &llmmock.Provider{})
	reg.RegisterModel("plan-model", llm.ModelRoute{Provider: "p", Model: "m1"}, true)
	reg.RegisterModel("code-model", llm.ModelRoute{Provider: "p", Model: "m2"}, false)
	reg.RegisterModel("test-model", llm.ModelRoute{Provider: "p", Model: "m3"}, false)

	engine := NewStrategyEngine(reg, config.StrategyConfig{
		PlannerModel: "plan-model",
		CoderModel:   "code-model",
		TesterModel:  "test-model",
	})

	for role, want := range map[Role]string{
		RolePlanner: "plan-model",
		RoleCoder:   "code-model",
		RoleTester:  "test-model",
	} {
		_, route, err := engine.ResolveModel(role)
		require.NoError(t, err)
		require.Equal(t, want, route.Name)
	}
}

func TestStrategyFallsBackToDefaults(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterProvider("p", &llmmock.Provider{})
	reg.RegisterModel("main", llm.ModelRoute{Provider: "p", Model: "m1"}, true)
	reg.RegisterModel("cheap", llm.ModelRoute{Provider: "p", Model: "m2"}, false)

	_, route, err := NewStrategyEngine(reg, config.StrategyConfig{}).ResolveModel(RoleCoder)
	require.NoError(t, err)
	require.Equal(t, "main", route.Name)

	_, route, err = NewStrategyEngine(reg, config.StrategyConfig{DefaultModel: "cheap"}).ResolveModel(RoleTester)
	require.NoError(t, err)
	require.Equal(t, "cheap", route.Name)

	_, _, err = NewStrategyEngine(reg, config.StrategyConfig{PlannerModel: "missing"}).ResolveModel(RolePlanner)
	require.Error(t, err)
}
