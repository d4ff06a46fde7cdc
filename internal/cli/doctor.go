package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/llm/configbuilder"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))

			names := make([]string, 0, len(cfg.Providers))
			for name := range cfg.Providers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := cfg.Providers[name]
				credential := "set"
				if strings.TrimSpace(p.APIKey) == "" {
					credential = "missing"
				}
				if strings.EqualFold(p.Type, "ollama") {
					credential = "not required"
				}
				fmt.Fprintf(out, "Provider %s (%s): credential %s\n", name, p.Type, credential)
			}

			reg, err := configbuilder.BuildRegistryFromConfig(cfg, configbuilder.Options{})
			if err != nil {
				return fmt.Errorf("build registry: %w", err)
			}
			strategy := agent.NewStrategyEngine(reg, cfg.Strategy)
			for _, role := range []agent.Role{agent.RolePlanner, agent.RoleCoder, agent.RoleTester} {
				p, route, err := strategy.ResolveModel(role)
				if err != nil {
					return fmt.Errorf("resolve %s model: %w", role, err)
				}
				fmt.Fprintf(out, "Role %s: %s via %s (%s)\n", role, route.Name, p.Name(), route.Model)
			}

			if info, err := os.Stat(cfg.Sandbox.Root); err != nil || !info.IsDir() {
				fmt.Fprintf(out, "Sandbox root %s: not a directory\n", cfg.Sandbox.Root)
			} else {
				fmt.Fprintf(out, "Sandbox root %s: ok (write: %v)\n", cfg.Sandbox.Root, cfg.Sandbox.AllowWrite)
			}
			fmt.Fprintf(out, "Run history: %v, metrics: %v, transport: %s\n", cfg.Store.Enabled, cfg.Server.MetricsEnabled, cfg.Server.Transport)
			return nil
		},
	}
}
