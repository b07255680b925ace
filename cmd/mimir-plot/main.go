// Command mimir-plot follows a live log server and prints one line per point
// of the projected series, starting with the points already in the server's
// snapshot.
//
//	mimir-plot [flags] <x-key> <y-key>[,<y-key>...]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/mimir/config"
	"github.com/INLOpen/mimir/internal/cli"
	"github.com/INLOpen/mimir/series"
	"github.com/INLOpen/mimir/server"
	"github.com/INLOpen/mimir/session"
)

func main() {
	os.Exit(run())
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <x-key> <y-key>[,<y-key>...]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func run() int {
	configPath := flag.String("config", "mimir.yaml", "Path to the configuration file")
	host := flag.String("host", "", "Log server host")
	subscribePort := flag.Int("subscribe-port", 0, "Port of the live feed")
	requestPort := flag.Int("request-port", 0, "Port of the snapshot service (zmq only)")
	persistent := flag.Bool("persistent", true, "Request a snapshot before following the live feed")
	transportName := flag.String("transport", "", `Transport, "zmq" or "grpc"`)
	snapshotTimeout := flag.String("snapshot-timeout", "", "Give up on the snapshot after this long, e.g. 5s")
	filterSnapshot := flag.Bool("filter-snapshot", false, "Only request snapshot entries that contain every plotted key")
	debugOrdering := flag.Bool("debug-ordering", false, "Log out-of-order live envelopes")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	debugAddr := flag.String("debug-addr", "", "Serve pprof, metrics and /series on this address")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	// Flags override the file only when given on the command line.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Client.Host = *host
		case "subscribe-port":
			cfg.Client.SubscribePort = *subscribePort
		case "request-port":
			cfg.Client.RequestPort = *requestPort
		case "persistent":
			cfg.Client.Persistent = *persistent
		case "transport":
			cfg.Client.Transport = *transportName
		case "snapshot-timeout":
			cfg.Client.SnapshotTimeout = *snapshotTimeout
		case "filter-snapshot":
			cfg.Client.FilterSnapshot = *filterSnapshot
		case "debug-ordering":
			cfg.Client.DebugOrdering = *debugOrdering
		case "no-color":
			cfg.Client.NoColor = *noColor
		case "debug-addr":
			cfg.Debug.Enabled = true
			cfg.Debug.ListenAddress = *debugAddr
		}
	})
	cfg.Client.XKey = flag.Arg(0)
	cfg.Client.YKeys = cli.SplitKeys(flag.Arg(1))
	if cfg.Debug.Enabled {
		cfg.Client.TrackDropped = true
	}

	logger, logCloser, err := cli.CreateLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if err := cfg.Client.Validate(); err != nil {
		logger.Error("Invalid client configuration", "error", err)
		return 2
	}

	_, tracerCleanup, err := cli.InitTracerProvider(cfg.Tracing, "mimir-plot", logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		return 1
	}
	defer tracerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := follow(ctx, cfg, logger); err != nil {
		logger.Error("mimir-plot exited with an error", "error", err)
		return 1
	}
	logger.Info("mimir-plot exited gracefully.")
	return 0
}

func follow(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connector, closer, err := cli.NewConnector(cfg.Client, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	printer := cli.NewPointPrinter(nil, cfg.Client.XKey, cfg.Client.YKeys, cfg.Client.NoColor)
	opts := cli.SessionOptions(cfg.Client, logger)
	opts.Sinks = []series.Sink{printer}
	if opts.Hooks != nil {
		defer opts.Hooks.Stop()
	}

	s, err := session.Open(ctx, connector, opts)
	if err != nil {
		return err
	}
	if err := s.SnapshotErr(); err != nil {
		logger.Warn("Plotting only new entries", "reason", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := s.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Debug.Enabled {
		debugSrv := server.NewDebugServer(&cfg.Debug, s, logger)
		g.Go(debugSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			debugSrv.Stop()
			return nil
		})
	}

	err = g.Wait()
	stats := s.Reconciler().Stats()
	logger.Info("Session finished", "session_id", s.ID(), "points", s.Series().Len(),
		"last_applied", stats.LastApplied, "dropped_stale", stats.Stale, "dropped_incomplete", stats.Incomplete)
	return err
}
