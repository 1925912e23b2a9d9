// Package handler is the thin HTTP layer over ingestion and search. It
// delegates to the audit services without embedding business logic so
// transport concerns remain isolated.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"scribe/internal/audit/models"
	"scribe/internal/platform/middleware"
	dErrors "scribe/pkg/domain-errors"
	"scribe/pkg/requestcontext"
)

// Ingestor records audit events; it never reports failure.
type Ingestor interface {
	Ingest(ctx context.Context, event models.Event)
}

// Searcher serves paginated audit queries.
type Searcher interface {
	Search(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) models.Page
}

// Handler handles audit endpoints.
type Handler struct {
	logger    *slog.Logger
	ingestor  Ingestor
	searcher  Searcher
	validator middleware.TokenValidator
}

// New creates a new audit Handler.
func New(ingestor Ingestor, searcher Searcher, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		ingestor:  ingestor,
		searcher:  searcher,
		validator: validator,
	}
}

// Register registers the audit routes with the chi router. Reads require a
// valid bearer token; writes are open to the host application.
func (h *Handler) Register(r chi.Router) {
	r.Post("/audits", h.handleIngest)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/audits", h.handleSearch)
	})
}

// handleIngest accepts one audit event and returns immediately. The 202
// is an acknowledgement of receipt, not of persistence: the write path is
// fire-and-forget by contract.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.WarnContext(ctx, "invalid audit event payload",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if tag := deviceTag(requestcontext.UserAgent(ctx)); tag != "" {
		event.Tags = append(event.Tags, tag)
	}

	h.ingestor.Ingest(ctx, event)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// searchResponse is the wire shape of a result page; the cursor is opaque
// and round-trippable via the cursor query parameter.
type searchResponse struct {
	Items        []models.Record `json:"items"`
	Count        int             `json:"count"`
	ScannedCount int             `json:"scanned_count"`
	Cursor       string          `json:"cursor,omitempty"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid limit"))
			return
		}
		limit = parsed
	}

	cursor, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid cursor"))
		return
	}

	filters := models.Filters{
		SubjectID:   q.Get("subject_id"),
		SubjectType: q.Get("subject_type"),
		ActorID:     q.Get("actor_id"),
		Event:       q.Get("event"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
	}

	page := h.searcher.Search(ctx, limit, cursor, filters)

	resp := searchResponse{
		Items:        page.Items,
		Count:        page.Count,
		ScannedCount: page.ScannedCount,
		Cursor:       encodeCursor(page.Cursor),
		Message:      page.Message,
		Error:        page.Error,
	}
	if resp.Items == nil {
		resp.Items = []models.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// encodeCursor renders the store's last-key token as an opaque string.
func encodeCursor(key models.PageKey) string {
	if len(key) == 0 {
		return ""
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(value string) (models.PageKey, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var key models.PageKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, err
	}
	return key, nil
}

// deviceTag classifies the client from its User-Agent for coarse
// device-level forensics on the record's tags.
func deviceTag(ua string) string {
	if ua == "" {
		return ""
	}
	agent := useragent.New(ua)
	switch {
	case agent.Bot():
		return "agent:bot"
	case agent.Mobile():
		return "agent:mobile"
	default:
		return "agent:browser"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest:
		status = http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
