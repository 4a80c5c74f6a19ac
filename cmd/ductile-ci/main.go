package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/ductile-ci/internal/api"
	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/dispatch"
	"github.com/mattjoyce/ductile-ci/internal/doctor"
	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/heartbeat"
	"github.com/mattjoyce/ductile-ci/internal/lock"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/protocol"
	"github.com/mattjoyce/ductile-ci/internal/results"
	"github.com/mattjoyce/ductile-ci/internal/scheduler"
	"github.com/mattjoyce/ductile-ci/internal/server"
	"github.com/mattjoyce/ductile-ci/internal/state"
	"github.com/mattjoyce/ductile-ci/internal/storage"
	"github.com/mattjoyce/ductile-ci/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(cliArgs []string, stdout, stderr io.Writer) int {
	if len(cliArgs) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args, stderr)
	case "status":
		return runStatus(args, stdout, stderr)
	case "dispatch":
		return runDispatch(args, stdout, stderr)
	case "watch":
		return runWatch(args, stderr)
	case "check":
		return runCheck(args, stdout, stderr)
	case "version", "--version":
		return runVersion(args, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `ductile-ci - CI test dispatcher

Usage:
  ductile-ci <command> [flags]

Commands:
  serve               Run the dispatcher in the foreground
  status              Check that a dispatcher is answering
  dispatch <commit>   Queue a commit for testing
  watch               Live view of runners, queue and events (needs api.enabled)
  check               Validate configuration and results directory
  version             Show version information
  help                Show this help message

Use 'ductile-ci <command> --help' for command flags.
`)
}

// --- check ---

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *configPath == "" {
		*configPath = config.DiscoverConfigPath()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to encode report: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

// --- serve ---

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	host := fs.String("host", "localhost", "Dispatcher listen host")
	port := fs.Int("port", 8888, "Dispatcher listen port")
	apiListen := fs.String("api", "", "Enable the status API on this address (overrides api.listen)")
	logLevel := fs.String("log-level", "", "Override service.log_level")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *configPath == "" {
		*configPath = config.DiscoverConfigPath()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Flags given explicitly win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Listen.Host = *host
		case "port":
			cfg.Listen.Port = *port
		case "api":
			cfg.API.Enabled = true
			cfg.API.Listen = *apiListen
		case "log-level":
			cfg.Service.LogLevel = *logLevel
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("ductile-ci starting", "version", version, "config", *configPath)

	pidLock, err := lock.Acquire(cfg.PIDFilePath())
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.PIDFilePath(), "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, nil); err != nil {
		logger.Error("dispatcher failed", "error", err)
		return 1
	}
	logger.Info("ductile-ci stopped")
	return 0
}

// serve wires every component and blocks until ctx is cancelled or one of
// them fails. ready, when non-nil, receives the bound dispatcher address.
func serve(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open results index: %w", err)
	}
	defer db.Close()

	sink, err := results.New(cfg.Results.Dir, db)
	if err != nil {
		return err
	}

	store := state.NewStore()
	hub := events.NewHub(256)
	client := protocol.NewClient(cfg.Dispatch.ProbeTimeout)

	engine := dispatch.New(store, client, cfg.Dispatch, hub)
	monitor := heartbeat.New(store, client, cfg.Heartbeat, hub)
	sched := scheduler.New(cfg.Redistribute, store, engine, hub, logger)
	handler := server.NewHandler(store, engine, sink, hub, cfg.Results.MaxPayloadBytes)
	srv := server.New(cfg.Addr(), handler, cfg.Listen.ReadTimeout)

	if err := srv.Listen(); err != nil {
		return err
	}
	if ready != nil {
		ready <- srv.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := monitor.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("heartbeat: %w", err)
		}
		return nil
	})

	sched.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:             cfg.API.Listen,
			RateLimitPerMinute: cfg.API.RateLimitPerMinute,
			Token:              cfg.API.Token,
		}, store, sink, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("ductile-ci running (press Ctrl+C to stop)", "addr", srv.Addr().String())

	err = g.Wait()
	// Dispatch attempts observe gctx and are abandoned mid-backoff.
	engine.Wait()
	return err
}

// --- observer helpers ---

func addrFlags(fs *flag.FlagSet) (*string, *int, *time.Duration) {
	host := fs.String("host", "localhost", "Dispatcher host")
	port := fs.Int("port", 8888, "Dispatcher port")
	timeout := fs.Duration("timeout", protocol.DefaultTimeout, "Request timeout")
	return host, port, timeout
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host, port, timeout := addrFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	addr := joinAddr(*host, *port)
	reply, err := protocol.NewClient(*timeout).Send(context.Background(), addr, protocol.CmdStatus)
	if err != nil {
		fmt.Fprintf(stderr, "Dispatcher %s unreachable: %v\n", addr, err)
		return 1
	}
	fmt.Fprintln(stdout, reply)
	if reply != protocol.ReplyOK {
		return 1
	}
	return 0
}

func runDispatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host, port, timeout := addrFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintln(stderr, "Usage: ductile-ci dispatch [--host H] [--port P] <commit>")
		return 1
	}

	addr := joinAddr(*host, *port)
	request := protocol.Format(protocol.CmdDispatch, strings.TrimSpace(fs.Arg(0)))
	reply, err := protocol.NewClient(*timeout).Send(context.Background(), addr, request)
	if err != nil {
		fmt.Fprintf(stderr, "Dispatcher %s unreachable: %v\n", addr, err)
		return 1
	}
	fmt.Fprintln(stdout, reply)
	if reply != protocol.ReplyOK {
		return 1
	}
	return 0
}

func joinAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// --- watch ---

func runWatch(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Status API URL")
	apiToken := fs.String("api-token", os.Getenv("DUCTILE_CI_API_TOKEN"), "Status API bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *apiToken))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "ductile-ci %s\n", info.Version)
	fmt.Fprintf(stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}
