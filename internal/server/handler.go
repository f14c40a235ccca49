package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/xray-classifier/pkg/classify"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// StatusClientClosedRequest is returned when the caller went away first
const StatusClientClosedRequest = 499

// Classifier is the part of classify.Classifier the handler needs
type Classifier interface {
	Classify(ctx context.Context, image []byte, mediaType string) ([]types.PredictionResult, error)
}

// ClassifyResponse is the body of a successful classification
type ClassifyResponse struct {
	Results    []types.PredictionResult `json:"results"`
	Top        types.PredictionResult   `json:"top"`
	IsFracture bool                     `json:"is_fracture"`
	Confidence string                   `json:"confidence"`
}

// ErrorResponse carries the user-facing message and the error kind
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handler serves classification requests
type Handler struct {
	classifier     Classifier
	maxUploadBytes int64
	version        string
	logger         *zap.Logger
}

// NewHandler creates a handler. Uploads larger than maxUploadBytes are rejected.
func NewHandler(classifier Classifier, maxUploadBytes int64, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		classifier:     classifier,
		maxUploadBytes: maxUploadBytes,
		version:        version,
		logger:         logger,
	}
}

// Classify handles POST /api/classify with a multipart "image" field
func (h *Handler) Classify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "The image is too large.",
				Kind:  classify.KindInvalidInput,
			})
			return
		}
		h.respondError(c, &classify.InvalidInputError{Reason: "missing image field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(c, &classify.InvalidInputError{Reason: "unreadable upload: " + err.Error()})
		return
	}

	results, err := h.classifier.Classify(c.Request.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	sorted := classify.SortByScore(results)
	top, _ := classify.Top(sorted)
	c.JSON(http.StatusOK, ClassifyResponse{
		Results:    sorted,
		Top:        top,
		IsFracture: classify.IsFracture(top),
		Confidence: classify.FormatPercent(top.Score),
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	kind := classify.Kind(err)
	h.logger.Debug("classification request failed",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("kind", kind),
		zap.Error(err))
	c.JSON(StatusFor(kind), ErrorResponse{
		Error: classify.UserMessage(err),
		Kind:  kind,
	})
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind string) int {
	switch kind {
	case classify.KindInvalidInput:
		return http.StatusBadRequest
	case classify.KindMalformed:
		return http.StatusBadGateway
	case classify.KindConnect, classify.KindRetryExhausted, classify.KindTransport:
		return http.StatusServiceUnavailable
	case classify.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
