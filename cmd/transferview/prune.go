package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wesm/transferview/internal/config"
	"github.com/wesm/transferview/internal/db"
	"github.com/wesm/transferview/internal/transfer"
)

// PruneConfig holds parsed CLI options for the prune command.
type PruneConfig struct {
	Filter db.PruneFilter
	DryRun bool
	Yes    bool
}

func parsePruneFlags(args []string) (PruneConfig, error) {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	before := fs.String(
		"before", "",
		"Sessions last updated before this date (YYYY-MM-DD)",
	)
	state := fs.String(
		"state", "",
		"Sessions in this state (e.g. COMPLETED)",
	)
	dryRun := fs.Bool(
		"dry-run", false,
		"Show what would be pruned without deleting",
	)
	yes := fs.Bool(
		"yes", false,
		"Skip confirmation prompt",
	)

	if err := fs.Parse(args); err != nil {
		return PruneConfig{}, err
	}

	if *before != "" {
		if _, err := time.Parse("2006-01-02", *before); err != nil {
			return PruneConfig{}, fmt.Errorf(
				"invalid --before %q: use YYYY-MM-DD", *before,
			)
		}
	}
	st := strings.ToUpper(*state)
	if st != "" && !transfer.SessionState(st).Valid() {
		return PruneConfig{}, fmt.Errorf("unknown state %q", *state)
	}

	cfg := PruneConfig{
		Filter: db.PruneFilter{Before: *before, State: st},
		DryRun: *dryRun,
		Yes:    *yes,
	}

	if !cfg.Filter.HasFilters() {
		return PruneConfig{}, fmt.Errorf(
			"at least one filter is required\n" +
				"use --before or --state",
		)
	}
	return cfg, nil
}

// Pruner executes the prune workflow against a database.
type Pruner struct {
	DB  *db.DB
	Out io.Writer
	In  io.Reader
}

// Prune finds matching stored sessions and deletes them. Session
// logs on disk are left alone.
func (p *Pruner) Prune(ctx context.Context, cfg PruneConfig) error {
	if !cfg.Filter.HasFilters() {
		return fmt.Errorf(
			"at least one filter is required " +
				"(refusing to prune all sessions)",
		)
	}

	candidates, err := p.DB.FindPruneCandidates(ctx, cfg.Filter)
	if err != nil {
		return fmt.Errorf("finding candidates: %w", err)
	}

	if len(candidates) == 0 {
		fmt.Fprintln(p.Out,
			"No sessions match the given filters.")
		return nil
	}

	writeSummary(p.Out, candidates)

	if cfg.DryRun {
		fmt.Fprintln(p.Out, "\nDry run: no changes made.")
		return nil
	}

	if !cfg.Yes {
		msg := fmt.Sprintf(
			"\nDelete %d sessions?", len(candidates),
		)
		if !confirm(p.In, p.Out, msg) {
			fmt.Fprintln(p.Out, "Aborted.")
			return nil
		}
	}

	ids := make([]string, len(candidates))
	for i, s := range candidates {
		ids[i] = s.ID
	}

	deleted, err := p.DB.DeleteSessions(ids)
	if err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	fmt.Fprintf(p.Out, "\nDeleted %d sessions\n", deleted)
	return nil
}

func confirm(r io.Reader, w io.Writer, msg string) bool {
	fmt.Fprintf(w, "%s [y/N] ", msg)
	scanner := bufio.NewScanner(r)
	scanner.Scan()
	ans := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return ans == "y" || ans == "yes"
}

func writeSummary(w io.Writer, sessions []db.Session) {
	byState := map[string]int{}
	var states []string
	for _, s := range sessions {
		if byState[s.State] == 0 {
			states = append(states, s.State)
		}
		byState[s.State]++
	}
	sort.Strings(states)

	fmt.Fprintf(w, "Found %d sessions\n", len(sessions))
	fmt.Fprintln(w, "\nBy state:")
	for _, st := range states {
		fmt.Fprintf(w, "  %-12s %d\n", st, byState[st])
	}
}

func runPrune(args []string) {
	cfg, err := parsePruneFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	pruner := &Pruner{
		DB:  database,
		Out: os.Stdout,
		In:  os.Stdin,
	}
	if err := pruner.Prune(context.Background(), cfg); err != nil {
		log.Fatalf("prune: %v", err)
	}
}
