package main

import (
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/netprep/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long:  "Prints the configuration after merging config.yaml, NETPREP_* environment variables and defaults. Database passwords are masked.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfigYAML(os.Stdout, cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [mode]",
	Short: "Check the configuration for a command mode (prepare, import, read)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "prepare"
		if len(args) == 1 {
			mode = args[0]
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}
		cmd.Printf("Configuration is valid for %s.\n", mode)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// writeConfigYAML encodes c to w with credentials removed.
func writeConfigYAML(w io.Writer, c *config.Config) error {
	if c == nil {
		return eris.New("config not loaded")
	}
	shown := *c
	shown.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return eris.Wrap(err, "config show: encode")
	}
	return enc.Close()
}

// redactURL masks the password of a connection URL. Values that do not
// parse as URLs with user info are returned unchanged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
