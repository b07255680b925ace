// Command mimir-publish reads JSON objects, one per line, from stdin and
// publishes them to live subscribers. With a history (max_len != -1) it also
// answers snapshot requests, and it can mirror the log into a compressed
// JSON-lines file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/mimir/config"
	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/handlers"
	"github.com/INLOpen/mimir/internal/cli"
	"github.com/INLOpen/mimir/logstore"
	"github.com/INLOpen/mimir/transport/rpc"
	"github.com/INLOpen/mimir/transport/zmq"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "mimir.yaml", "Path to the configuration file")
	transportName := flag.String("transport", "", `Transport, "zmq" or "grpc"`)
	bindHost := flag.String("bind-host", "", `Interface to bind, "*" for all`)
	subscribePort := flag.Int("subscribe-port", 0, "Port of the live feed")
	requestPort := flag.Int("request-port", 0, "Port of the snapshot service (zmq only)")
	maxLen := flag.Int("max-len", 0, "Entries kept for snapshots; 0 keeps all, -1 disables snapshots")
	filePath := flag.String("file", "", "Also write entries to this JSON-lines file")
	compression := flag.String("compression", "", "Compression of -file: none, gzip, zstd, snappy, lz4")
	echo := flag.Bool("echo", false, "Print every entry to stdout")
	filterExpr := flag.String("filter", "", `Only publish entries matching this expression, e.g. "loss < 10"`)
	exitOnEOF := flag.Bool("exit-on-eof", false, "Exit when stdin is closed instead of serving until interrupted")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Publisher.Transport = *transportName
		case "bind-host":
			cfg.Publisher.BindHost = *bindHost
		case "subscribe-port":
			cfg.Publisher.SubscribePort = *subscribePort
		case "request-port":
			cfg.Publisher.RequestPort = *requestPort
		case "max-len":
			cfg.Publisher.MaxLen = *maxLen
		case "file":
			cfg.Publisher.File.Path = *filePath
		case "compression":
			cfg.Publisher.File.Compression = *compression
		case "echo":
			cfg.Publisher.Echo = *echo
		case "filter":
			cfg.Publisher.Filter = *filterExpr
		}
	})

	logger, logCloser, err := cli.CreateLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if err := cfg.Publisher.Validate(); err != nil {
		logger.Error("Invalid publisher configuration", "error", err)
		return 2
	}

	_, tracerCleanup, err := cli.InitTracerProvider(cfg.Tracing, "mimir-publish", logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		return 1
	}
	defer tracerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := publish(ctx, cfg, os.Stdin, *exitOnEOF, logger); err != nil {
		logger.Error("mimir-publish exited with an error", "error", err)
		return 1
	}
	logger.Info("mimir-publish exited gracefully.")
	return 0
}

func publish(ctx context.Context, cfg *config.Config, in io.Reader, exitOnEOF bool, logger *slog.Logger) error {
	pcfg := cfg.Publisher
	store := logstore.New(logstore.Options{
		MaxLen:           pcfg.MaxLen,
		SubscriberBuffer: pcfg.SubscriberBuffer,
		Logger:           logger,
	})
	defer store.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var pub handlers.Publisher
	switch pcfg.Transport {
	case "zmq":
		zp, err := zmq.NewPublisher(store, zmq.PublisherOptions{
			SubscribeBind: fmt.Sprintf("tcp://%s:%d", pcfg.BindHost, pcfg.SubscribePort),
			RequestBind:   fmt.Sprintf("tcp://%s:%d", pcfg.BindHost, pcfg.RequestPort),
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		defer zp.Close()
		g.Go(func() error { return zp.Serve(gctx) })
		pub = zp
	case "grpc":
		host := pcfg.BindHost
		if host == "*" {
			host = ""
		}
		lis, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(pcfg.SubscribePort)))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		srv := rpc.NewServer(store, logger)
		g.Go(func() error { return srv.Serve(lis) })
		g.Go(func() error {
			<-gctx.Done()
			srv.Stop()
			return nil
		})
		pub = handlers.StorePublisher(store)
	default:
		return fmt.Errorf("unsupported transport: %q", pcfg.Transport)
	}

	var hs []handlers.Handler
	hs = append(hs, handlers.NewServerHandler(pub))
	if pcfg.File.Path != "" {
		ct, err := core.ParseCompressionType(pcfg.File.Compression)
		if err != nil {
			return err
		}
		fh, err := handlers.NewFileHandler(pcfg.File.Path, handlers.FileOptions{Compression: ct, Buffered: pcfg.File.Buffered})
		if err != nil {
			return err
		}
		logger.Info("Writing log file", "path", fh.Path(), "compression", ct)
		hs = append(hs, fh)
	}
	if pcfg.Echo {
		hs = append(hs, handlers.NewPrintHandler(nil, nil))
	}
	if pcfg.Filter != "" {
		f, err := handlers.ExprFilter(pcfg.Filter)
		if err != nil {
			return err
		}
		for i, h := range hs {
			hs[i] = handlers.WithFilters(h, f)
		}
	}
	dispatcher := handlers.NewDispatcher(logger, hs...)
	defer dispatcher.Close()

	// Scanning stdin cannot be interrupted, so the reader is not part of
	// the group; shutdown only waits for the servers.
	go func() {
		if err := readEntries(gctx, in, dispatcher, logger); err != nil {
			logger.Error("Failed to read input", "error", err)
			cancel()
			return
		}
		logger.Info("Input closed", "logged", dispatcher.Logged(), "seq_num", store.Seq())
		if exitOnEOF {
			cancel()
		}
	}()
	return g.Wait()
}

// readEntries logs every line of in until EOF. Lines that are not JSON
// objects are skipped with a warning.
func readEntries(ctx context.Context, in io.Reader, d *handlers.Dispatcher, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		entry, err := core.DecodeEntry(scanner.Bytes())
		if err != nil {
			logger.Warn("Skipping malformed line", "line", line, "error", err)
			continue
		}
		if err := d.Log(entry); err != nil {
			logger.Warn("Failed to log entry", "line", line, "error", err)
		}
	}
	return scanner.Err()
}
