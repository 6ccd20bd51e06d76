package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/runnerr0/visitortrack/internal/config"
)

// loadConfig loads the file named by --config, or the default config path,
// creating it with defaults when missing.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// newLogger builds the process logger. format is "json" or "text".
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// countRow is one line of count output, shared by the store-backed and
// server-backed commands.
type countRow struct {
	PageURL     string `json:"page_url"`
	VisitCount  int64  `json:"visit_count"`
	LastVisited string `json:"last_visited"`
	CreatedAt   string `json:"created_at"`
}

func printRows(rows []countRow, asJSON bool) error {
	if asJSON {
		if rows == nil {
			rows = []countRow{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No visits recorded.")
		return nil
	}

	var total int64
	for _, r := range rows {
		fmt.Printf("%10s  %-20s  %s\n", formatNumber(r.VisitCount), r.LastVisited, r.PageURL)
		total += r.VisitCount
	}
	fmt.Println()
	fmt.Printf("%s pages, %s visits\n", formatNumber(int64(len(rows))), formatNumber(total))
	return nil
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
