package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	xrayclassifier "github.com/menta2k/xray-classifier"
	"github.com/menta2k/xray-classifier/internal/config"
	"github.com/menta2k/xray-classifier/internal/logging"
	"github.com/menta2k/xray-classifier/internal/metrics"
	"github.com/menta2k/xray-classifier/internal/server"
	"github.com/menta2k/xray-classifier/internal/utils"
	"github.com/menta2k/xray-classifier/pkg/classify"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// fileResult is one line of CLI output
type fileResult struct {
	File       string                   `json:"file"`
	Results    []types.PredictionResult `json:"results,omitempty"`
	Top        *types.PredictionResult  `json:"top,omitempty"`
	IsFracture bool                     `json:"is_fracture"`
	Confidence string                   `json:"confidence,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Kind       string                   `json:"kind,omitempty"`
}

func main() {
	var configPath, envFile, in, backend, url, model string
	var maxRetries int

	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&envFile, "env", ".env", "env file with HF_TOKEN etc. (ignored when missing)")
	flag.StringVar(&in, "in", "", "classify an image file or directory and exit instead of serving")
	flag.StringVar(&backend, "backend", "", "override transport: hfapi|gradio|ollama|llamacpp")
	flag.StringVar(&url, "url", "", "override inference URL, Gradio app or Space id, or Ollama server")
	flag.StringVar(&model, "model", "", "override vision model (ollama, llamacpp)")
	flag.IntVar(&maxRetries, "retries", -1, "override max retries (-1 keeps config)")
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if backend != "" {
		cfg.Transport.Kind = backend
	}
	if url != "" {
		cfg.Transport.URL = url
	}
	if model != "" {
		cfg.Transport.Model = model
	}
	if maxRetries >= 0 {
		cfg.Retry.MaxRetries = maxRetries
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	opts := cfg.Options()
	opts.Logger = logger
	opts.Observer = recorder
	classifier, err := xrayclassifier.New(opts)
	if err != nil {
		logger.Fatal("failed to create classifier", zap.Error(err))
	}

	logger.Info("classifier ready",
		zap.String("version", xrayclassifier.Version),
		zap.String("transport", opts.Transport),
		zap.Int("max_retries", opts.Retry.MaxRetries),
		zap.Durations("retry_waits", opts.Retry.Waits()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if in != "" {
		if err := classifyFiles(ctx, classifier, in, logger); err != nil {
			logger.Fatal("classification run failed", zap.Error(err))
		}
		return
	}

	if err := serve(ctx, cfg, classifier, registry, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func classifyFiles(ctx context.Context, classifier *classify.Classifier, in string, logger *zap.Logger) error {
	files, err := utils.ListImageFiles(in)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files found in %s", in)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		logger.Debug("classifying file",
			zap.String("file", file),
			zap.String("size", utils.FormatFileSize(int64(len(data)))))

		out := fileResult{File: file}
		results, err := classifier.Classify(ctx, data, utils.MediaTypeForFile(file))
		if err != nil {
			out.Error = classify.UserMessage(err)
			out.Kind = classify.Kind(err)
		} else {
			out.Results = classify.SortByScore(results)
			if top, ok := classify.Top(results); ok {
				out.Top = &top
				out.IsFracture = classify.IsFracture(top)
				out.Confidence = classify.FormatPercent(top.Score)
			}
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, classifier *classify.Classifier, registry *prometheus.Registry, logger *zap.Logger) error {
	handler := server.NewHandler(classifier, cfg.Server.MaxUploadBytes, xrayclassifier.Version, logger)
	router := server.Setup(handler, registry, cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
