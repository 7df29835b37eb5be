package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/x11guard/x11guard"
	"git.unix.lgbt/diamondburned/x11guard/x11guard/journal"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type flagOptions struct {
	AppName      string `long:"app-name" default:"qq" description:"process name of the application to guard"`
	Threshold    int    `long:"threshold" default:"10" description:"X11 connections of the main process above which the application is restarted; child processes are not counted"`
	RestartCmd   string `long:"restart-cmd" description:"shell command relaunching the application (default: the app name)"`
	Display      string `long:"display" description:"X11 display to count connections to (default: $DISPLAY, else :0)"`
	SocketDir    string `long:"socket-dir" default:"/tmp/.X11-unix" description:"directory of the X server's UNIX sockets"`
	Cooldown     int    `long:"cooldown" default:"120" description:"minimum seconds between two restarts"`
	FallbackPoll int    `long:"fallback-poll" default:"15" description:"seconds between unconditional evaluations"`
	ScanInterval int    `long:"scan-interval" default:"2" description:"seconds between PID re-resolutions"`
	GraceTimeout int    `long:"grace-timeout" default:"8" description:"seconds to wait after SIGTERM before SIGKILL"`
	KillTimeout  int    `long:"kill-timeout" default:"3" description:"seconds to wait after SIGKILL"`
	DebounceMS   int    `long:"debounce-ms" default:"200" description:"milliseconds to merge descriptor changes over"`
	DryRun       bool   `long:"dry-run" description:"only report restarts instead of performing them"`

	Config      string `long:"config" description:"YAML configuration file; flags given explicitly take precedence"`
	Journal     string `long:"journal" description:"append events to this file, locking it against other instances"`
	JournalWait int    `long:"journal-wait" default:"0" description:"seconds to wait for another instance to release the journal lock"`
	MetricsAddr string `long:"metrics-addr" description:"serve Prometheus metrics on this address"`
	Verbose     bool   `short:"v" long:"verbose" description:"log every sample"`
	LogFormat   string `long:"log-format" default:"console" choice:"console" choice:"json" description:"log encoding"`
}

func main() {
	var opts flagOptions

	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] [history [n]]"

	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(exitOK)
		}
		os.Exit(exitUsage)
	}

	cfg, err := loadConfig(parser, &opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	var cmd string
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "":
		os.Exit(start(opts, cfg))
	case "history":
		os.Exit(history(opts, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		os.Exit(exitUsage)
	}
}

// loadConfig builds the guard configuration from the flags and, if given, the
// configuration file. Flags given on the command line win over the file, which
// wins over flag defaults.
func loadConfig(parser *flags.Parser, opts *flagOptions) (x11guard.Config, error) {
	cfg := x11guard.DefaultConfig()
	cfg.AppName = opts.AppName
	cfg.Threshold = opts.Threshold
	cfg.RestartCmd = opts.RestartCmd
	cfg.SocketDir = opts.SocketDir
	cfg.Cooldown = seconds(opts.Cooldown)
	cfg.FallbackPoll = seconds(opts.FallbackPoll)
	cfg.ScanInterval = seconds(opts.ScanInterval)
	cfg.GraceTimeout = seconds(opts.GraceTimeout)
	cfg.KillTimeout = seconds(opts.KillTimeout)
	cfg.Debounce = time.Duration(opts.DebounceMS) * time.Millisecond
	cfg.DryRun = opts.DryRun

	if opts.Display != "" {
		cfg.Display = opts.Display
	}

	if opts.Config == "" {
		return cfg, nil
	}

	f, err := x11guard.LoadConfigFile(opts.Config)
	if err != nil {
		return cfg, err
	}

	explicit := func(name string) bool {
		o := parser.FindOptionByLongName(name)
		return o != nil && o.IsSet() && !o.IsSetDefault()
	}

	f.Apply(&cfg, explicit)

	if f.Journal != nil && !explicit("journal") {
		opts.Journal = *f.Journal
	}
	if f.MetricsAddr != nil && !explicit("metrics-addr") {
		opts.MetricsAddr = *f.MetricsAddr
	}

	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newLogger(verbose bool, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = format
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Every restart decision must reach the log.
	cfg.Sampling = nil

	if format == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return cfg.Build()
}

func start(opts flagOptions, cfg x11guard.Config) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return exitUsage
	}

	logger, err := newLogger(opts.Verbose, opts.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		return exitFailure
	}
	defer logger.Sync()

	journalers := []x11guard.Journaler{journal.NewZapWriter(logger)}

	if opts.Journal != "" {
		j, err := openJournal(opts.Journal, seconds(opts.JournalWait))
		if err != nil {
			if errors.Is(err, journal.ErrLockedElsewhere) {
				// Non-fatal error.
				logger.Info("x11guard is already running", zap.String("journal", opts.Journal))
				return exitOK
			}

			logger.Error("failed to acquire journal lock", zap.Error(err))
			return exitFailure
		}
		defer j.Close()

		journalers = append(journalers, j)
	}

	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		stop, err := serveMetrics(opts.MetricsAddr, reg, logger)
		if err != nil {
			logger.Error("failed to serve metrics", zap.Error(err))
			return exitFailure
		}
		defer stop()

		journalers = append(journalers, x11guard.NewMetrics(reg))
	}

	journaler := journal.MultiWriter(journalers...)

	if opts.Journal != "" {
		journaler.Write(&x11guard.EventAcquired{})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := x11guard.NewGuard(cfg, journaler)
	if err != nil {
		logger.Error("failed to start guard", zap.Error(err))
		return exitFailure
	}

	if err := g.Run(ctx); err != nil {
		logger.Error("guard stopped", zap.Error(err))
		return exitFailure
	}

	return exitOK
}

// openJournal locks and opens the journal file. If wait is positive, it waits
// that long for another instance to release the lock, which happens when the
// service manager restarts the guard.
func openJournal(path string, wait time.Duration) (*journal.FileLockJournaler, error) {
	if wait <= 0 {
		return journal.NewFileLockJournaler(path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	return journal.NewFileLockJournalerWait(ctx, path)
}

// serveMetrics serves the registry on addr in the background. The returned
// function shuts the server down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// history prints the newest n events of the journal, oldest first.
func history(opts flagOptions, args []string) int {
	if opts.Journal == "" {
		fmt.Fprintln(os.Stderr, "history requires --journal")
		return exitUsage
	}

	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			fmt.Fprintf(os.Stderr, "invalid event count %q\n", args[0])
			return exitUsage
		}
		n = v
	}

	entries, err := journal.ReadRecent(opts.Journal, n)

	for i := len(entries) - 1; i >= 0; i-- {
		data, _ := json.Marshal(entries[i].Event)
		fmt.Printf("%s  %-16s  %s\n",
			entries[i].Time.Format(time.RFC3339), entries[i].Event.Type(), data)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read journal:", err)
		return exitFailure
	}

	return exitOK
}
