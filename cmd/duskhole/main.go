package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"duskhole/pkg/blocklist"
	"duskhole/pkg/config"
	"duskhole/pkg/dns"
	"duskhole/pkg/dnsname"
	"duskhole/pkg/fetcher"
	"duskhole/pkg/forwarder"
	"duskhole/pkg/logging"
	"duskhole/pkg/registry"
	"duskhole/pkg/resolver"
	"duskhole/pkg/scheduler"
	"duskhole/pkg/telemetry"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	attemptTimeout = 2 * time.Second
	totalTimeout   = 5 * time.Second
	httpTimeout    = 30 * time.Second

	telemetryPrometheusPort = 9090
)

func main() {
	configPath := "config.yml"
	args := os.Args[1:]

	fs := flag.NewFlagSet("duskhole", flag.ExitOnError)
	fs.StringVar(&configPath, "config", configPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, cmdArgs := rest[0], rest[1:]

	var err error
	switch cmd {
	case "start":
		err = runStart(configPath)
	case "stop":
		err = runStop(configPath)
	case "reload":
		err = runReload(configPath)
	case "status":
		err = runStatus(configPath)
	case "test":
		err = runTest(configPath, cmdArgs)
	case "add":
		err = runAdd(configPath, cmdArgs)
	case "remove":
		err = runRemove(configPath, cmdArgs)
	case "list":
		err = runList(configPath)
	case "update":
		err = runUpdate(configPath)
	case "version":
		printVersion()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "duskhole %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: duskhole [--config path] <command> [args]

Commands:
  start            run the server in the foreground
  stop             send SIGTERM to a running instance
  reload           send SIGHUP to a running instance (rebuild from files)
  status           print server state, snapshot stats, uptime
  test <name>      classify <name> against a freshly built snapshot
  add <name>       append <name> to the custom list and trigger a reload
  remove <name>    remove <name> from the custom list and trigger a reload
  list             print snapshot counts
  update           fetch remote lists once and rebuild
  version          print version information
`)
}

func printVersion() {
	fmt.Printf("duskhole %s (commit %s, built %s, %s)\n", version, gitCommit, buildTime, runtime.Version())
}

// pidFilePath derives the pidfile location deterministically from the
// config path's directory: spec §6 names no config key for it, only that
// stop/status discover a running instance "via a pidfile or process name".
func pidFilePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "duskhole.pid")
}

func writePIDFile(configPath string) error {
	return os.WriteFile(pidFilePath(configPath), []byte(strconv.Itoa(os.Getpid())), 0600)
}

func readPID(configPath string) (int, error) {
	data, err := os.ReadFile(pidFilePath(configPath))
	if err != nil {
		return 0, fmt.Errorf("no running instance found: %w", err)
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func signalRunningInstance(configPath string, sig syscall.Signal) error {
	pid, err := readPID(configPath)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}

// components bundles everything built from config that the CLI commands
// share, so each command only wires what it needs on top of this base.
type components struct {
	cfg       *config.Config
	logger    *logging.Logger
	builder   *blocklist.Builder
	fetcher   *fetcher.Fetcher
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
}

func buildComponents(configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logging.SetGlobal(logger)

	// Strict: the Remote Fetcher's HTTP client must resolve blocklist URL
	// hostnames through the configured upstreams, never falling back to the
	// system resolver, which on a host where duskhole itself is that
	// resolver would recurse into this process.
	fetcherResolver := resolver.NewStrict(cfg.Server.UpstreamDNS, logger)
	httpClient := fetcherResolver.NewHTTPClient(httpTimeout)

	builder := blocklist.NewBuilder(logger, cfg.Blocklist.EnableWildcards, true)
	f := fetcher.New(logger, httpClient)

	reg := registry.New()
	reg.Publish(blocklist.Empty())

	sched := scheduler.New(cfg, builder, f, reg, logger)

	return &components{
		cfg:       cfg,
		logger:    logger,
		builder:   builder,
		fetcher:   f,
		registry:  reg,
		scheduler: sched,
	}, nil
}

func runStart(configPath string) error {
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.scheduler.RefreshOnce(ctx); err != nil {
		c.logger.Warn("initial blocklist build had errors", "error", err)
	}

	telem, err := telemetry.New(ctx, telemetry.Options{
		ServiceName:    "duskhole",
		ServiceVersion: version,
		PrometheusPort: telemetryPrometheusPort,
		Enabled:        true,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	fwd := forwarder.New(c.cfg.Server.UpstreamDNS, c.logger, attemptTimeout, totalTimeout)
	handler := dns.NewHandler(c.registry, fwd, c.cfg.Server.BlockedResponse, c.logger)
	handler.SetMetrics(metrics)

	addr := fmt.Sprintf("%s:%d", c.cfg.Server.ListenAddr, c.cfg.Server.ListenPort)
	server := dns.NewServer(addr, handler, c.logger, metrics)

	if err := writePIDFile(configPath); err != nil {
		c.logger.Warn("could not write pidfile", "error", err)
	}
	defer os.Remove(pidFilePath(configPath))

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Start(ctx)
	}()

	c.logger.Info("duskhole started", "address", addr, "upstreams", c.cfg.Server.UpstreamDNS)

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- c.scheduler.Run(ctx, func(shutdownCtx context.Context) error {
			cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("error during DNS server shutdown", "error", err)
			}
			return telem.Shutdown(shutdownCtx)
		})
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		<-schedDone
		return err
	case err := <-schedDone:
		return err
	}
}

func runStop(configPath string) error {
	if err := signalRunningInstance(configPath, syscall.SIGTERM); err != nil {
		return err
	}
	fmt.Println("stop signal sent")
	return nil
}

func runReload(configPath string) error {
	if err := signalRunningInstance(configPath, syscall.SIGHUP); err != nil {
		return err
	}
	fmt.Println("reload signal sent")
	return nil
}

func runStatus(configPath string) error {
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}

	pid, pidErr := readPID(configPath)
	if pidErr != nil {
		fmt.Println("state: stopped")
		return nil
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		fmt.Println("state: stopped (stale pidfile)")
		return nil
	}

	fmt.Println("state: running")
	fmt.Printf("pid: %d\n", pid)

	if createMs, err := proc.CreateTime(); err == nil {
		uptime := time.Since(time.UnixMilli(createMs))
		fmt.Printf("uptime: %s\n", uptime.Round(time.Second))
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		fmt.Printf("rss: %d bytes\n", mem.RSS)
	}

	if err := c.scheduler.ReloadFromFiles(); err != nil {
		return err
	}
	printSnapshotStats(c.registry.Current())
	return nil
}

func runTest(configPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: duskhole test <name>")
	}

	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}
	if err := c.scheduler.RefreshOnce(context.Background()); err != nil {
		return err
	}

	name, err := dnsname.Normalize(args[0])
	if err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}

	classification, entry := c.registry.Current().ClassifyMatch(name)
	if classification == blocklist.Allowed {
		fmt.Printf("ALLOWED %s\n", name)
		return nil
	}
	if classification == blocklist.BlockedWildcard {
		fmt.Printf("BLOCKED %s (%s, matched *.%s)\n", name, classification.String(), entry)
		return nil
	}
	fmt.Printf("BLOCKED %s (%s, matched %s)\n", name, classification.String(), entry)
	return nil
}

func runAdd(configPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: duskhole add <name>")
	}
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}
	name, err := dnsname.Normalize(args[0])
	if err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	if err := blocklist.AppendToCustomList(c.cfg.Blocklist.CustomList, name.String()); err != nil {
		return err
	}
	fmt.Printf("added %s\n", name)
	triggerReloadIfRunning(configPath)
	return nil
}

func runRemove(configPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: duskhole remove <name>")
	}
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}
	name, err := dnsname.Normalize(args[0])
	if err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	if err := blocklist.RemoveFromCustomList(c.cfg.Blocklist.CustomList, name.String()); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", name)
	triggerReloadIfRunning(configPath)
	return nil
}

// triggerReloadIfRunning best-effort signals a running server; no running
// instance is not an error for add/remove, which operate on the file
// regardless of whether a server is up.
func triggerReloadIfRunning(configPath string) {
	_ = signalRunningInstance(configPath, syscall.SIGHUP)
}

func runList(configPath string) error {
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}
	if err := c.scheduler.ReloadFromFiles(); err != nil {
		return err
	}
	printSnapshotStats(c.registry.Current())
	return nil
}

func printSnapshotStats(snap *blocklist.Snapshot) {
	stats := snap.Stats()
	fmt.Printf("exact entries: %d\n", stats.ExactCount)
	fmt.Printf("wildcard entries: %d\n", stats.WildcardCount)
}

func runUpdate(configPath string) error {
	c, err := buildComponents(configPath)
	if err != nil {
		return err
	}
	if err := c.scheduler.RefreshOnce(context.Background()); err != nil {
		return err
	}
	printSnapshotStats(c.registry.Current())
	return nil
}

func init() {
	signal.Ignore(syscall.SIGPIPE)
}
