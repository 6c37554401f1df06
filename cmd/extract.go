package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/estimator/internal/extract"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "Run the JSON extractor on model output",
	Long:  "Reads model output from a file or stdin and prints the JSON value the quote service would recover from it.",
	Args:  cobra.MaximumNArgs(1),
	// Local text only; no config or logger needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "extract: open input")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}
		text, err := io.ReadAll(r)
		if err != nil {
			return eris.Wrap(err, "extract: read input")
		}

		v, ok := extract.JSON(string(text))
		if !ok {
			return eris.New("no JSON value found")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
