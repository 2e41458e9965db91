package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

// printResult writes v as JSON, or through table when --format table is set
func printResult(v any, table func(w *tabwriter.Writer)) error {
	switch outputFormat {
	case "json", "":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table":
		if table == nil {
			return fmt.Errorf("table output is not available for this command")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}
