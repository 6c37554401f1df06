package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/estimator/internal/store"
)

var (
	quotesDate   string
	quotesZip    string
	quotesLimit  int
	quotesCursor string
	quotesJSON   bool
)

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Inspect stored quote records",
}

var quotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored quotes in key order",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, records, err := openRecords(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		page, err := records.List(cmd.Context(), store.RecordFilter{
			Date:   quotesDate,
			Zip:    quotesZip,
			Limit:  quotesLimit,
			Cursor: quotesCursor,
		})
		if err != nil {
			return err
		}
		if quotesJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		return printQuotePage(cmd.OutOrStdout(), page)
	},
}

var quotesGetCmd = &cobra.Command{
	Use:   "get <key|url>",
	Short: "Print one stored quote record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, records, err := openRecords(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		key := args[0]
		if strings.Contains(key, "://") {
			k, ok := st.KeyFromURL(key)
			if !ok {
				return eris.Errorf("url %q is not in the configured store", key)
			}
			key = k
		}
		body, err := records.Get(cmd.Context(), key)
		if err != nil {
			return err
		}

		var pretty any
		if err := json.Unmarshal(body, &pretty); err != nil {
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	},
}

func printQuotePage(w io.Writer, page *store.RecordPage) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPLOADED\tZIP\tSIZE\tKEY")
	for _, it := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", it.UploadedAt.Format("2006-01-02 15:04:05"), it.Zip, it.Size, it.Key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.NextCursor != nil {
		fmt.Fprintf(w, "\nnext cursor: %s\n", *page.NextCursor)
	}
	return nil
}

func init() {
	quotesListCmd.Flags().StringVar(&quotesDate, "date", "", "only quotes created on this UTC day (YYYY-MM-DD)")
	quotesListCmd.Flags().StringVar(&quotesZip, "zip", "", "only quotes for this ZIP code")
	quotesListCmd.Flags().IntVar(&quotesLimit, "limit", 50, "maximum quotes to list")
	quotesListCmd.Flags().StringVar(&quotesCursor, "cursor", "", "continue after this key")
	quotesListCmd.Flags().BoolVar(&quotesJSON, "json", false, "print the page as JSON")
	quotesCmd.AddCommand(quotesListCmd, quotesGetCmd)
	rootCmd.AddCommand(quotesCmd)
}
