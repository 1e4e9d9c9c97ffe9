package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
)

// NewConfigCommand creates the config command, which prints the resolved
// configuration as YAML. Values replaced by defaults are listed on stderr.
func NewConfigCommand() *cobra.Command {
	var (
		configPath string
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfigWithOverrides(configPath, config.Overrides{
				Strict: changedBool(cmd, "strict"),
			})
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(data)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			warn := color.New(color.FgYellow)
			if noColor {
				warn.DisableColor()
			}

			for _, problem := range cfg.Problems {
				warn.Fprintf(cmd.ErrOrStderr(), "replaced by default: %v\n", problem)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./.pseudostream.yaml, then $HOME)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored warnings")
	cmd.Flags().Bool("strict", false, "Fail on invalid configuration instead of substituting defaults")

	return cmd
}
