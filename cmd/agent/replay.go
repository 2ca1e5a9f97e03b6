package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/config"
	"github.com/vinayprograms/agentrun/internal/replay"
)

// openDurableStore opens the configured audit store for reading. The
// memory backend holds nothing once the writing process exits.
func openDurableStore(cfg *config.Config) (audit.Store, error) {
	if cfg.Storage.Backend == "memory" {
		return nil, fmt.Errorf("storage.backend is memory; stored runs need the file or sqlite backend")
	}
	return audit.Open(cfg.Storage.Backend, cfg.Storage.Path)
}

func (c *ReplayCmd) Run(a *app) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, err := openDurableStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []replay.ReplayerOption{replay.WithWidth(c.Width)}
	if c.Cost != "" {
		in, out, err := parseCostSpec(c.Cost)
		if err != nil {
			return fmt.Errorf("invalid --cost spec %q: %w", c.Cost, err)
		}
		opts = append(opts, replay.WithPricing(in, out))
	}
	return replay.New(a.out, c.Verbose, opts...).ReplayRun(context.Background(), store, c.RunID)
}

// parseCostSpec parses "input,output" prices per 1M tokens.
func parseCostSpec(spec string) (float64, float64, error) {
	prices := strings.Split(spec, ",")
	if len(prices) != 2 {
		return 0, 0, fmt.Errorf("expected input,output prices")
	}
	in, err := strconv.ParseFloat(strings.TrimSpace(prices[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid input price: %w", err)
	}
	out, err := strconv.ParseFloat(strings.TrimSpace(prices[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid output price: %w", err)
	}
	return in, out, nil
}

func (c *RunsCmd) Run(a *app) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, err := openDurableStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := listRuns(context.Background(), store, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "no runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(a.out, "%s  %-9s  %s  %-20s %s\n",
			r.ID, r.Status, r.StartedAt.Format(time.RFC3339), r.Name,
			(time.Duration(r.DurationMs) * time.Millisecond).String())
	}
	return nil
}

// listRuns returns run records newest first.
func listRuns(ctx context.Context, store audit.Store, limit int) ([]*audit.Record, error) {
	switch s := store.(type) {
	case *audit.SQLiteStore:
		return s.Runs(ctx, limit)
	case *audit.FileStore:
		ids, err := s.RunIDs()
		if err != nil {
			return nil, err
		}
		runs := make([]*audit.Record, 0, len(ids))
		for _, id := range ids {
			rec, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			runs = append(runs, rec)
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}
		return runs, nil
	default:
		return nil, fmt.Errorf("listing runs is not supported by %T", store)
	}
}
