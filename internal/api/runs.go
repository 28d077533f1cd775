package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	ledgerTimeout   = 3 * time.Second
)

// RunLister reads the run ledger.
type RunLister interface {
	ListRuns(ctx context.Context, variant pipeline.Variant, limit, offset int) ([]pipeline.Result, error)
}

// RunHandler exposes read-only run history.
type RunHandler struct {
	runs    RunLister
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the ledger and logger. runs may be nil.
func NewRunHandler(runs RunLister, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{runs: runs, timeout: ledgerTimeout, logger: logger}
}

// ListRuns handles GET /v1/runs?variant=&limit=&offset=. It returns {"runs": [...]}, 400 for
// invalid filters, or 503 when no ledger is configured.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	variant, err := parseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.runs.ListRuns(ctx, variant, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseVariant(input string) (pipeline.Variant, error) {
	switch v := pipeline.Variant(strings.ToLower(strings.TrimSpace(input))); v {
	case "", pipeline.VariantRaces, pipeline.VariantArticles:
		return v, nil
	default:
		return "", errors.New("invalid variant")
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
