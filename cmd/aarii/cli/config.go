package cli

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/aarii/internal/config"
	"github.com/felixgeelhaar/aarii/internal/credential"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value (keys ending in api_key are encrypted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		a, err := openStore(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Settings.SetConfig(key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value (secrets are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		val, err := a.Settings.Display(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), val)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List stored settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}

		a, err := openStore(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		values, err := a.Store.ListConfig(prefix)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := values[k]
			if credential.IsSecretKey(k) && v != "" {
				v = "****"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, v)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res := config.Validate(cfg)
		out := cmd.OutOrStdout()
		for _, w := range res.Warnings {
			fmt.Fprintln(out, "warning:", w)
		}
		for _, e := range res.Errors {
			fmt.Fprintln(out, "error:", e)
		}
		if !res.Valid {
			return fmt.Errorf("configuration has %d error(s)", len(res.Errors))
		}
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configValidateCmd)
}
