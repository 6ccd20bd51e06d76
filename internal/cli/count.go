package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/visitortrack/internal/storage"
)

// Execute implements the go-flags Commander interface for CountCommand.
func (c *CountCommand) Execute(args []string) error {
	ctx := context.Background()

	store := c.store
	if store == nil {
		cfg, err := loadConfig(c.globals)
		if err != nil {
			return err
		}

		opened, err := storage.OpenStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer opened.Close()

		if err := opened.EnsureSchema(ctx); err != nil {
			return err
		}
		store = opened
	}

	return c.executeWithStore(ctx, store)
}

// executeWithStore prints counts from the provided store (used by tests).
func (c *CountCommand) executeWithStore(ctx context.Context, store storage.CounterStore) error {
	var visitors []storage.Visitor

	if c.URL != "" {
		v, err := store.Fetch(ctx, c.URL)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// print an empty result
		case err != nil:
			return fmt.Errorf("fetch %s: %w", c.URL, err)
		default:
			visitors = []storage.Visitor{*v}
		}
	} else {
		all, err := store.FetchAll(ctx)
		if err != nil {
			return fmt.Errorf("fetch all: %w", err)
		}
		visitors = all
	}

	rows := make([]countRow, 0, len(visitors))
	for _, v := range visitors {
		rows = append(rows, countRow{
			PageURL:     v.PageURL,
			VisitCount:  v.VisitCount,
			LastVisited: v.LastVisited.UTC().Format(time.RFC3339),
			CreatedAt:   v.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return printRows(rows, c.globals != nil && c.globals.JSON)
}
