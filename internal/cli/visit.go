package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runnerr0/visitortrack/internal/client"
)

// Execute implements the go-flags Commander interface for VisitCommand.
func (c *VisitCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for visit command")
	}

	v, err := client.New(c.Server).UpdateVisitorCount(context.Background(), c.URL)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	fmt.Printf("Recorded visit #%s to %s\n", formatNumber(v.VisitCount), v.PageURL)
	fmt.Printf("  Token: %s\n", v.SecurityToken)
	return nil
}

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
	visits, err := client.New(c.Server).GetVisitorCount(context.Background(), c.URL)
	if err != nil {
		return err
	}

	rows := make([]countRow, 0, len(visits))
	for _, v := range visits {
		rows = append(rows, countRow{
			PageURL:     v.PageURL,
			VisitCount:  v.VisitCount,
			LastVisited: v.LastVisited,
			CreatedAt:   v.CreatedAt,
		})
	}

	return printRows(rows, c.globals != nil && c.globals.JSON)
}
