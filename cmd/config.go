package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/estimator/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(redactConfig(*cfg)); err != nil {
			return err
		}
		return enc.Close()
	},
}

// redactConfig masks credentials. Empty values stay empty so a missing
// secret is still visible.
func redactConfig(c config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Admin.Token)
	mask(&c.Anthropic.Key)
	mask(&c.Store.DatabaseURL)
	return c
}

func init() {
	rootCmd.AddCommand(configCmd)
}
