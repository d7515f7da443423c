// Sentinel - Workplace Risk Aggregation and Notification Service
//
// The service supports two modes:
//
//  1. DAEMON MODE (HTTP API):
//     sentinel -daemon -config sentinel.yaml
//
//  2. BATCH MODE (JSON lines in, reports out):
//     sentinel -config sentinel.yaml -input units.jsonl -output reports.jsonl
//
// Each batch input line holds either {"communication": {...}} or
// {"snapshot": {...}, "related_threats": [...]}.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/exploopio/sentinel/pkg/audit"
	"github.com/exploopio/sentinel/pkg/config"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/pipeline"
	"github.com/exploopio/sentinel/pkg/server"
)

const (
	appName    = "sentinel"
	appVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (or SENTINEL_CONFIG env)")
	envFile := flag.String("env-file", ".env", "Path to a .env file loaded before the config")
	daemon := flag.Bool("daemon", false, "Serve the HTTP API")
	input := flag.String("input", "", "Batch mode: JSON lines file to analyze (- for stdin)")
	output := flag.String("output", "", "Batch mode: report output file (default stdout)")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	checkConfig := flag.Bool("check-config", false, "Validate the configuration and exit")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(getEnvOrFlag(*configPath, "SENTINEL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *checkConfig {
		fmt.Println("Configuration OK")
		os.Exit(0)
	}

	logger := core.NewDefaultLogger("["+appName+"]", core.ParseLogLevel(cfg.LogLevel))

	if !*daemon && *input == "" {
		fmt.Fprintln(os.Stderr, "Error: choose -daemon or -input")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if a.audit != nil {
		a.audit.Info(audit.EventServiceStart, fmt.Sprintf("%s %s started", appName, appVersion), map[string]interface{}{
			"daemon": *daemon,
			"policy": a.analyzer.Policy().Name(),
		})
		defer a.audit.Info(audit.EventServiceStop, appName+" stopped", nil)
	}

	if *daemon {
		err = runDaemon(ctx, a)
	} else {
		err = runBatch(ctx, a, *input, *output)
	}
	if err != nil {
		logger.Error("%v", err)
		a.close()
		os.Exit(1)
	}
}

// getEnvOrFlag returns flag value if set, otherwise env var.
func getEnvOrFlag(flagVal, envName string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envName)
}

func runDaemon(ctx context.Context, a *app) error {
	s, err := server.New(server.Config{
		Analyzer:     a.analyzer,
		Store:        a.store,
		Health:       a.health,
		Metrics:      metricsHandler(a),
		MetricsPath:  a.cfg.Metrics.Path,
		Audit:        a.audit,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Address,
		Handler:      s.Routes(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.health.SetReady(true)
	a.logger.Info("listening on %s (policy %s)", a.cfg.Server.Address, a.analyzer.Policy().Name())

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	a.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func metricsHandler(a *app) http.Handler {
	if a.prometheus == nil {
		return nil
	}
	return a.prometheus.Handler()
}

// waitForRoom blocks while the pass queue is full.
func waitForRoom(ctx context.Context, q *pipeline.Queue, size int) error {
	for q.Stats().QueueLength >= size {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// batchLine is one unit of batch input.
type batchLine struct {
	Communication  *model.Communication  `json:"communication,omitempty"`
	Snapshot       *model.MetricSnapshot `json:"snapshot,omitempty"`
	RelatedThreats []*model.Finding      `json:"related_threats,omitempty"`
	Locale         string                `json:"locale,omitempty"`
	Enabled        []string              `json:"enabled,omitempty"`
}

func (l batchLine) request() (pipeline.Request, error) {
	req := pipeline.Request{Locale: l.Locale, Enabled: l.Enabled}
	switch {
	case l.Communication != nil && l.Snapshot != nil:
		return req, errors.New("line has both communication and snapshot")
	case l.Communication != nil:
		req.Unit = l.Communication
	case l.Snapshot != nil:
		req.Unit = l.Snapshot
		req.RelatedThreats = l.RelatedThreats
	default:
		return req, errors.New("line has neither communication nor snapshot")
	}
	return req, nil
}

// batchResult is one line of batch output.
type batchResult struct {
	Line   int              `json:"line"`
	Report *pipeline.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runBatch(ctx context.Context, a *app, inputPath, outputPath string) error {
	in := io.Reader(os.Stdin)
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	out := io.Writer(os.Stdout)
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(r batchResult) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(r); err != nil {
			a.logger.Error("write result for line %d: %v", r.Line, err)
		}
	}

	lineOf := make(map[string]int)
	var lineMu sync.Mutex
	lookupLine := func(id string) int {
		lineMu.Lock()
		defer lineMu.Unlock()
		return lineOf[id]
	}

	qc := pipeline.DefaultQueueConfig()
	if a.cfg.Batch.Workers > 0 {
		qc.Workers = a.cfg.Batch.Workers
	}
	if a.cfg.Batch.QueueSize > 0 {
		qc.QueueSize = a.cfg.Batch.QueueSize
	}
	if a.cfg.Batch.PassTimeout > 0 {
		qc.PassTimeout = a.cfg.Batch.PassTimeout
	}
	qc.Logger = a.logger
	qc.OnCompleted = func(item *pipeline.QueueItem, rep *pipeline.Report) {
		write(batchResult{Line: lookupLine(item.ID), Report: rep})
	}
	qc.OnFailed = func(item *pipeline.QueueItem, err error) {
		write(batchResult{Line: lookupLine(item.ID), Error: err.Error()})
	}

	q := pipeline.NewQueue(qc, a.analyzer)
	q.Start(ctx)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line batchLine
		if err := json.Unmarshal(raw, &line); err != nil {
			write(batchResult{Line: lineNo, Error: fmt.Sprintf("decode: %v", err)})
			continue
		}
		req, err := line.request()
		if err != nil {
			write(batchResult{Line: lineNo, Error: err.Error()})
			continue
		}

		if err := waitForRoom(ctx, q, qc.QueueSize); err != nil {
			break
		}

		// lineMu is held across Submit: workers look IDs up on completion.
		lineMu.Lock()
		id, err := q.Submit(req)
		if err == nil {
			lineOf[id] = lineNo
		}
		lineMu.Unlock()
		if err != nil {
			write(batchResult{Line: lineNo, Error: err.Error()})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if err := q.Flush(ctx); err != nil {
		a.logger.Warn("batch interrupted: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		a.logger.Warn("stop queue: %v", err)
	}

	st := q.Stats()
	a.logger.Info("batch done: %d lines, %d submitted, %d completed, %d failed", lineNo, st.Submitted, st.Completed, st.Failed)
	return nil
}
