package config

// StrategyConfig defines per-role model selections.
type StrategyConfig struct {
	DefaultModel string `mapstructure:"default_model"`
	PlannerModel string `mapstructure:"planner_model"`
	CoderModel   string `mapstructure:"coder_model"`
	TesterModel  string `mapstructure:"tester_model"`
}
