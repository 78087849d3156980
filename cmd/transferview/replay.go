package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wesm/transferview/internal/monitor"
	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/transfer"
)

// ReplayResult is the outcome of processing a finished session
// offline.
type ReplayResult struct {
	Snapshot   transfer.Snapshot `json:"snapshot"`
	ErrorLines []string          `json:"error_lines,omitempty"`
	Lines      int               `json:"lines"`
}

// replay processes a session directory, its master.log, or any
// single master-format log. Worker logs are only followed when
// the session directory is known.
func replay(path string) (ReplayResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ReplayResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ReplayResult{}, err
	}

	if info.IsDir() {
		if !parser.IsRegularFile(filepath.Join(abs, parser.MasterLogName)) {
			return ReplayResult{}, fmt.Errorf(
				"no %s in %s", parser.MasterLogName, path,
			)
		}
		return replaySession(sessionID(abs), abs)
	}
	if filepath.Base(abs) == parser.MasterLogName {
		dir := filepath.Dir(abs)
		return replaySession(sessionID(dir), dir)
	}
	return replayFile(uuid.NewString(), abs)
}

// sessionID names a replayed session after its directory, or a
// fresh uuid when the directory name is not a valid id.
func sessionID(dir string) string {
	if id := filepath.Base(dir); parser.IsValidSessionID(id) {
		return id
	}
	return uuid.NewString()
}

func replaySession(id, dir string) (ReplayResult, error) {
	m, err := monitor.New(id, dir, nil)
	if err != nil {
		return ReplayResult{}, err
	}
	n := m.Drain()
	return ReplayResult{
		Snapshot:   m.Snapshot(),
		ErrorLines: m.ErrorLines(),
		Lines:      n,
	}, nil
}

func replayFile(id, path string) (ReplayResult, error) {
	proc := transfer.NewProcessor(id, func(transfer.Event) {})
	n := 0
	err := parser.ParseFile(path, func(msg transfer.Message) error {
		n++
		if err := proc.Render(msg); err != nil {
			log.Printf("replay: %v", err)
		}
		return nil
	})
	if err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{Snapshot: proc.Snapshot(), Lines: n}, nil
}

func writeReplay(w io.Writer, res ReplayResult) {
	snap := res.Snapshot
	fmt.Fprintf(w, "Session: %s\n", snap.SessionID)
	fmt.Fprintf(w, "State:   %s\n", snap.State)
	if snap.Source != "" {
		fmt.Fprintf(w, "Source:  %s\n", snap.Source)
	}
	if v := snap.ProducerVersion; v != "" {
		if transfer.SupportedVersion(v) {
			fmt.Fprintf(w, "Version: %s\n", v)
		} else {
			fmt.Fprintf(w, "Version: %s (older than %s)\n",
				v, transfer.MinProducerVersion)
		}
	}

	if len(snap.Queues) > 0 {
		fmt.Fprintln(w, "\nQueues:")
		for _, q := range snap.Queues {
			fmt.Fprintf(w, "  %-12s %3d%%  %d items: %d ok, %d warnings, %d failed\n",
				q.Name, q.Percent, q.ItemCount,
				q.Status.Success, q.Status.Warnings, q.Status.Failed)
		}
	}
	if len(snap.Report.Summary) > 0 {
		fmt.Fprintln(w, "\nSummary:")
		for _, s := range snap.Report.Summary {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	if len(snap.Report.Lines) > 0 {
		fmt.Fprintln(w, "\nReport:")
		for _, l := range snap.Report.Lines {
			fmt.Fprintf(w, "  [%s] %s\n", l.Class, l.Text)
			for _, d := range l.Details {
				fmt.Fprintf(w, "      [%s] %s\n", d.Class, d.Text)
			}
		}
	}
	if len(res.ErrorLines) > 0 {
		fmt.Fprintf(w, "\nErrors (%s):\n", parser.ErrorLogName)
		for _, l := range res.ErrorLines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

func parseReplayFlags(args []string) (string, bool, error) {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	if fs.NArg() != 1 {
		return "", false, fmt.Errorf(
			"usage: transferview replay [-json] <session-dir|log>",
		)
	}
	return fs.Arg(0), *asJSON, nil
}

func runReplay(args []string) {
	path, asJSON, err := parseReplayFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	res, err := replay(path)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("encoding result: %v", err)
		}
		return
	}
	writeReplay(os.Stdout, res)
}
