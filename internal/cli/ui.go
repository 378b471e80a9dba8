package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

func printHeader(w io.Writer, title string) {
	if title == "" {
		return
	}
	fmt.Fprintln(w, color.CyanString(title))
	fmt.Fprintln(w, strings.Repeat("─", 21))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func statusColor(status string) string {
	switch status {
	case "completed", "promoted", "resolved", "ok":
		return color.GreenString(status)
	case "error", "rolled_back", "critical":
		return color.RedString(status)
	case "canary_active", "analyzing", "pending", "high":
		return color.YellowString(status)
	default:
		return status
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
