package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"multistack/internal/config"
)

func (r *Root) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate or initialize configuration",
	}

	var asYAML bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			r.printf("# %s\n", config.Path())
			if asYAML {
				data, err := yaml.Marshal(r.cfg)
				if err != nil {
					return err
				}
				r.printf("%s", data)
				return nil
			}
			data, err := json.MarshalIndent(r.cfg, "", "  ")
			if err != nil {
				return err
			}
			r.printf("%s\n", data)
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for unusable settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.cfg.Validate(); err != nil {
				r.printf("%s %v\n", failMark, err)
				return err
			}
			r.printf("%s configuration is valid\n", okMark)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			if len(args) > 0 {
				path = args[0]
			}
			if config.Exists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			r.printf("%s wrote %s\n", okMark, path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, validate, initCmd)
	return cmd
}
