package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wesm/transferview/internal/config"
	"github.com/wesm/transferview/internal/db"
	"github.com/wesm/transferview/internal/monitor"
	"github.com/wesm/transferview/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "replay":
			runReplay(os.Args[2:])
			return
		case "prune":
			runPrune(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("transferview %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`transferview %s - progress viewer for account transfer sessions

Follows the master and worker logs of transfer and restore sessions,
tracks queue progress and outcomes, and serves them as JSON and
server-sent events.

Usage:
  transferview [flags]                Start the server (default command)
  transferview serve [flags]          Start the server (explicit)
  transferview replay [-json] <path>  Process a session directory or log offline
  transferview prune [flags]          Delete stored sessions matching filters
  transferview version                Show version information
  transferview help                   Show this help

Server flags:
  -host string          Host to bind to (default "127.0.0.1")
  -port int             Port to listen on (default 8080)
  -no-browser           Don't open browser on startup
  -sessions-dir string  Directory holding session logs
  -poll-interval dur    Fallback log re-read interval (default 1s)

Prune flags:
  -before string      Sessions last updated before this date (YYYY-MM-DD)
  -state string       Sessions in this state (e.g. COMPLETED)
  -dry-run            Show what would be pruned without deleting
  -yes                Skip confirmation prompt

Environment variables:
  TRANSFER_SESSIONS_DIR   Session log directory (default %s)
  TRANSFERVIEW_DATA_DIR   Data directory (database, config)
  BROWSER                 Command used to open the browser

Data is stored in ~/.transferview/ by default.
`, version, config.DefaultSessionsDir)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	database := mustOpenDB(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	mgr := monitor.NewManager(ctx, cfg.SessionsDir, cfg.PollInterval, database)
	defer mgr.Close()

	n, err := mgr.WatchAll()
	if err != nil {
		log.Printf("warning: loading sessions: %v", err)
	}
	fmt.Printf("Found %d sessions in %s\n", n, cfg.SessionsDir)

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database, mgr,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)
	fmt.Printf("transferview %s listening at %s\n", version, srv.URL())

	if !cfg.NoBrowser {
		go openBrowser(srv.URL())
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("transferview", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: transferview [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	if cfg.CursorSecret != "" {
		database.SetCursorSecret(cfg.CursorKey())
	}
	return database
}
