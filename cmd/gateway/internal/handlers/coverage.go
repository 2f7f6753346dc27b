package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/cmd/gateway/internal/middleware"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/pipeline"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/quota"
	"go.uber.org/zap"
)

const maxRequestBytes = 16 << 10

// Runner executes the coverage pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, token quota.Token) (pipeline.Result, error)
	Guard() *quota.Guard
}

// CoverageHandler serves POST /api/v1/coverage
type CoverageHandler struct {
	runner  Runner
	cookies *quota.CookieCodec
	logger  *zap.Logger
}

// NewCoverageHandler creates a new coverage handler
func NewCoverageHandler(runner Runner, cookies *quota.CookieCodec, logger *zap.Logger) *CoverageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoverageHandler{runner: runner, cookies: cookies, logger: logger}
}

// ErrorResponse is the body of every failed lookup.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
	Retryable bool   `json:"retryable"`
}

// Coverage handles POST /api/v1/coverage
func (h *CoverageHandler) Coverage(w http.ResponseWriter, r *http.Request) {
	token := h.cookies.Read(r)

	var req pipeline.Request
	if err := decodeRequest(w, r, &req); err != nil {
		h.logger.Debug("Rejected coverage body",
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
		h.writeRateHeaders(w, h.runner.Guard().Check(token))
		h.writeError(w, pipeline.NewError(pipeline.InvalidInput, "Request body must be JSON with a url or keywords field.", err))
		return
	}

	res, err := h.runner.Run(r.Context(), req, token)

	if res.Counted {
		if cerr := h.cookies.Write(w, res.Token, res.Quota.ResetAt); cerr != nil {
			h.logger.Error("Failed to write usage cookie", zap.Error(cerr))
		}
	}
	h.writeRateHeaders(w, res.Quota)

	if err != nil {
		pe, ok := pipeline.AsError(err)
		if !ok {
			pe = pipeline.NewError(pipeline.UpstreamError, "Unexpected failure.", err)
		}
		if pe.Kind == pipeline.RateLimited {
			retry := int(time.Until(res.Quota.ResetAt).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
		h.writeError(w, pe)
		return
	}

	writeJSON(w, http.StatusOK, res.Response, h.logger)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req *pipeline.Request) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(req); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after request object")
	}
	return nil
}

func (h *CoverageHandler) writeRateHeaders(w http.ResponseWriter, s quota.Status) {
	if s.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(s.ResetAt.Unix(), 10))
}

func (h *CoverageHandler) writeError(w http.ResponseWriter, pe *pipeline.Error) {
	writeJSON(w, pe.Status, ErrorResponse{
		Error:     pe.Message,
		ErrorType: string(pe.Kind),
		Retryable: pe.Retryable,
	}, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
