// Package main is the entry point for the mail address verifier.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/mailprobe-lite/internal/api"
	"github.com/shineum/mailprobe-lite/internal/config"
	"github.com/shineum/mailprobe-lite/internal/disposable"
	"github.com/shineum/mailprobe-lite/internal/report"
	"github.com/shineum/mailprobe-lite/internal/resolver"
	"github.com/shineum/mailprobe-lite/internal/smtp"
	"github.com/shineum/mailprobe-lite/internal/suppression"
	"github.com/shineum/mailprobe-lite/internal/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	format := flag.String("format", "text", "output format: text or json")
	serve := flag.Bool("serve", false, "run the HTTP API instead of verifying arguments")
	transcript := flag.Bool("transcript", false, "print the SMTP exchange to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [address ...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Addresses are read from standard input when none are given.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Standard output carries the report, so logs go to stderr.
	setupLogger(cfg.Logging.Level, os.Stderr)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	engine, closeEngine, err := buildEngine(ctx, cfg, *transcript, verifier.NewMetrics(reg))
	if err != nil {
		slog.Error("failed to create verifier", "error", err)
		os.Exit(1)
	}
	defer closeEngine()

	if *serve {
		server := api.NewServer(api.Config{
			Listen:   cfg.API.Listen,
			Gatherer: reg,
		}, engine)

		slog.Info("starting mailprobe API",
			"listen", cfg.API.Listen,
			"paced", cfg.Probe.Paced,
			"proxy", cfg.ProxyConfigured(),
			"suppression", cfg.Suppression.Enabled,
		)

		if err := server.ListenAndServe(ctx); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		slog.Info("mailprobe stopped")
		return
	}

	if err := runOnce(ctx, engine, report.Format(*format), flag.Args(), os.Stdin, os.Stdout); err != nil {
		slog.Error("verification failed", "error", err)
		os.Exit(1)
	}
}

// runOnce verifies the given addresses, or those read from in when none are
// given, and writes the report to out. The report is written even when the
// run was interrupted.
func runOnce(ctx context.Context, engine api.Verifier, format report.Format, args []string, in io.Reader, out io.Writer) error {
	w, err := report.NewWithWriter(out, format)
	if err != nil {
		return err
	}

	addrs := args
	if len(addrs) == 0 {
		addrs, err = readAddresses(in)
		if err != nil {
			return err
		}
	}

	results, verr := engine.Verify(ctx, addrs)
	if err := w.Write(addrs, results); err != nil {
		return err
	}
	return verr
}

// readAddresses reads one address per line, skipping blank lines and
// '#' comments.
func readAddresses(r io.Reader) ([]string, error) {
	var addrs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read addresses: %w", err)
	}
	return addrs, nil
}

// buildEngine wires the verifier collaborators from configuration. The
// returned function releases resources held by them.
func buildEngine(ctx context.Context, cfg *config.Config, transcript bool, metrics *verifier.Metrics) (*verifier.Engine, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	sources := []disposable.Source{disposable.Embedded()}
	if cfg.Disposable.File != "" {
		sources = append(sources, disposable.Optional("file", disposable.File(cfg.Disposable.File)))
	}
	if cfg.RedisConfigured() {
		rs := disposable.NewRedisSource(disposable.RedisOptions{
			Addr:     cfg.Disposable.RedisAddr,
			Password: cfg.Disposable.RedisPassword,
			DB:       cfg.Disposable.RedisDB,
			Key:      cfg.Disposable.RedisKey,
		})
		closers = append(closers, func() { rs.Close() })
		sources = append(sources, disposable.Optional("redis", rs))
		slog.Info("using redis disposable domain source", "addr", cfg.Disposable.RedisAddr, "key", cfg.Disposable.RedisKey)
	}

	dialer, err := smtp.NewDialer(smtp.ProxyConfig{
		Address:  cfg.Proxy.Address,
		Username: cfg.Proxy.Username,
		Password: cfg.Proxy.Password,
	}, cfg.Probe.ConnectTimeout)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if cfg.ProxyConfigured() {
		slog.Info("probing through SOCKS5 proxy", "proxy", cfg.Proxy.Address)
	}

	opts := verifier.Options{
		Checks: verifier.Checks{
			Syntax:     cfg.Checks.Syntax,
			Disposable: cfg.Checks.Disposable,
			AcceptAll:  cfg.Checks.AcceptAll,
		},
		From:            cfg.Probe.From,
		HeloName:        cfg.Probe.HeloName,
		Port:            cfg.Probe.Port,
		ConnectTimeout:  cfg.Probe.ConnectTimeout,
		ReadTimeout:     cfg.Probe.ReadTimeout,
		Batched:         !cfg.Probe.Paced,
		PaceDelay:       cfg.Probe.PaceDelay,
		StrictHandshake: cfg.Probe.StrictHandshake,
		Concurrency:     cfg.Probe.Concurrency,
		Disposable:      disposable.New(disposable.Multi(sources...)),
		Resolver:        resolver.New(nil, 0),
		Dialer:          dialer,
		Transcript:      buildTranscript(cfg.Logging.Transcript, transcript, os.Stderr),
		Metrics:         metrics,
	}

	if cfg.Suppression.Enabled {
		checker, err := suppression.New(ctx, suppression.Config{
			Region:          cfg.Suppression.Region,
			AccessKeyID:     cfg.Suppression.AccessKeyID,
			SecretAccessKey: cfg.Suppression.SecretAccessKey,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts.Suppression = checker
		slog.Info("using SES suppression list", "region", cfg.Suppression.Region)
	}

	engine, err := verifier.New(opts)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return engine, closeAll, nil
}

// buildTranscript returns the transcript sink selected by the logging
// configuration and the -transcript flag, or nil when both are off.
func buildTranscript(logged, printed bool, w io.Writer) smtp.Transcript {
	var ts []smtp.Transcript
	if logged {
		ts = append(ts, smtp.SlogTranscript(nil))
	}
	if printed {
		ts = append(ts, smtp.WriterTranscript(w))
	}
	switch len(ts) {
	case 0:
		return nil
	case 1:
		return ts[0]
	default:
		return smtp.Tee(ts...)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
