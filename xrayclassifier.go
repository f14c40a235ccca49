// Package xrayclassifier classifies X-ray images as fracture or normal by calling a
// remote inference service.
//
// The remote model does all the work. This package adapts the image into a request,
// retries while a cold-starting service warms up, and normalizes the two response
// shapes hosted models produce into one ranked list of label/score pairs.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//		"os"
//
//		"github.com/menta2k/xray-classifier"
//		"github.com/menta2k/xray-classifier/pkg/classify"
//	)
//
//	func main() {
//		opts := xrayclassifier.DefaultOptions()
//		opts.Token = os.Getenv("HF_TOKEN")
//
//		c, err := xrayclassifier.New(opts)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		data, err := os.ReadFile("wrist.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		results, err := c.Classify(context.Background(), data, "image/jpeg")
//		if err != nil {
//			log.Fatal(classify.UserMessage(err))
//		}
//		for _, r := range classify.SortByScore(results) {
//			fmt.Printf("%s: %s\n", r.Label, classify.FormatPercent(r.Score))
//		}
//	}
//
// The package consists of these components:
//
// 1. Transports (pkg/hfapi, pkg/gradio, pkg/ollama, pkg/llamacpp): one remote call per Invoke
// 2. Classifier (pkg/classify): payload adapter, retry controller, normalizer and error kinds
// 3. Types (pkg/types): results and payloads shared by all layers
package xrayclassifier

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/xray-classifier/pkg/classify"
	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/gradio"
	"github.com/menta2k/xray-classifier/pkg/hfapi"
	"github.com/menta2k/xray-classifier/pkg/llamacpp"
	"github.com/menta2k/xray-classifier/pkg/ollama"
	"github.com/menta2k/xray-classifier/pkg/processing"
)

// Version of the xray classifier library
const Version = "0.1.0"

// Transport kinds
const (
	TransportHFAPI    = "hfapi"
	TransportGradio   = "gradio"
	TransportOllama   = "ollama"
	TransportLlamaCpp = "llamacpp"
)

// Options selects the remote service and how calls to it are retried
type Options struct {
	// Transport is one of TransportHFAPI, TransportGradio, TransportOllama or TransportLlamaCpp
	Transport string
	// URL is the inference endpoint, Gradio app URL or Space id, or model server.
	// Empty selects the transport default, except for Gradio which needs an app.
	URL string
	// Token is sent as a bearer token. Optional.
	Token string
	// APIName is the Gradio endpoint name
	APIName string
	// Model is the vision model for Ollama or llama.cpp
	Model string
	// Timeout bounds a single remote call
	Timeout time.Duration
	// MaxImageSide bounds the long side of images re-encoded for vision models
	MaxImageSide int

	Retry    classify.RetryPolicy
	Logger   *zap.Logger
	Observer classify.Observer
}

// DefaultOptions targets the hosted fracture model with the default retry policy
func DefaultOptions() Options {
	return Options{
		Transport:    TransportHFAPI,
		APIName:      gradio.DefaultAPIName,
		Timeout:      60 * time.Second,
		MaxImageSide: processing.DefaultMaxSide,
		Retry:        classify.DefaultRetryPolicy(),
	}
}

// NewTransport builds the transport selected by opts.Transport
func NewTransport(opts Options) (client.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Transport)) {
	case "", TransportHFAPI:
		return hfapi.NewClient(opts.URL, opts.Token, opts.Timeout)
	case TransportGradio:
		return gradio.NewClient(opts.URL, opts.APIName, opts.Token, opts.Timeout)
	case TransportOllama:
		httpClient := &http.Client{Timeout: opts.Timeout}
		return ollama.NewClient(opts.URL, opts.Model, httpClient, processing.NewProcessor(opts.MaxImageSide, 0))
	case TransportLlamaCpp:
		return llamacpp.NewClient(opts.URL, opts.Model, opts.Timeout, processing.NewProcessor(opts.MaxImageSide, 0))
	default:
		return nil, fmt.Errorf("unknown transport %q (expected %s, %s, %s or %s)", opts.Transport,
			TransportHFAPI, TransportGradio, TransportOllama, TransportLlamaCpp)
	}
}

// New creates a classifier for opts. A missing token is logged, not rejected.
func New(opts Options) (*classify.Classifier, error) {
	if err := opts.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	transport, err := NewTransport(opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.Token) == "" && sendsToken(opts.Transport) {
		logger.Warn("API token is missing, requests are sent without authorization",
			zap.String("target", transport.Target()))
	}

	return classify.New(transport,
		classify.WithRetryPolicy(opts.Retry),
		classify.WithLogger(logger),
		classify.WithObserver(opts.Observer),
	), nil
}

// sendsToken reports whether the transport authenticates with the bearer token
func sendsToken(transport string) bool {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", TransportHFAPI, TransportGradio:
		return true
	default:
		return false
	}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
