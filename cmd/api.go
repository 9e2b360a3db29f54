package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
	"codejanitor/internal/usecase/janitor"
)

// janitorAPI is the slice of janitor.Service the HTTP layer calls.
type janitorAPI interface {
	ListIssues(ctx context.Context, query janitor.IssueQuery) (janitor.IssuePage, error)
	GetIssue(ctx context.Context, issueID uint64) (janitor.IssueDetail, error)
	TriggerFix(ctx context.Context, issueID uint64) (janitor.TriggerFixResult, error)
	SyncIssues(ctx context.Context, projectKey string) (janitor.SyncResult, error)
	RecentEvents(ctx context.Context, limit int) ([]ports.Event, error)
	EventsAfter(ctx context.Context, afterEventID uint64, limit int) ([]ports.Event, error)
	MetricsSummary(ctx context.Context) (janitor.MetricsSummary, error)
}

type apiOptions struct {
	CORSOrigins  []string
	StreamPoll   time.Duration
	MetricsRoute http.Handler
}

type apiHandler struct {
	svc      janitorAPI
	baseCtx  context.Context
	poll     time.Duration
	upgrader websocket.Upgrader
}

type issueResponse struct {
	ID           uint64  `json:"id"`
	SonarQubeKey string  `json:"sonarqube_key"`
	ProjectKey   string  `json:"project_key"`
	Rule         string  `json:"rule"`
	Severity     string  `json:"severity"`
	FilePath     string  `json:"file_path"`
	Line         *int    `json:"line"`
	Message      *string `json:"message"`
	Status       string  `json:"status"`
	PRURL        *string `json:"pr_url"`
	PRBranch     *string `json:"pr_branch"`
	MergeOutcome string  `json:"merge_outcome"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type eventResponse struct {
	ID        uint64          `json:"id"`
	IssueID   uint64          `json:"issue_id"`
	EventType string          `json:"event_type"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type issueListResponse struct {
	Items      []issueResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

type issueDetailResponse struct {
	issueResponse
	Events []eventResponse `json:"events"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

func newAPIHandler(ctx context.Context, svc janitorAPI, opts apiOptions) http.Handler {
	poll := opts.StreamPoll
	if poll <= 0 {
		poll = time.Second
	}
	h := &apiHandler{
		svc:     svc,
		baseCtx: ctx,
		poll:    poll,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.CORSOrigins),
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(corsMiddleware(opts.CORSOrigins))

	r.Get("/health", h.handleHealth)
	if opts.MetricsRoute != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsRoute)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/issues", h.handleListIssues)
		r.Get("/issues/{id}", h.handleGetIssue)
		r.Post("/issues/{id}/trigger-fix", h.handleTriggerFix)
		r.Post("/sync", h.handleSync)
		r.Get("/events/recent", h.handleRecentEvents)
		r.Get("/events/stream", h.handleEventStream)
		r.Get("/metrics/summary", h.handleMetricsSummary)
	})
	return r
}

func (h *apiHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug(h.baseCtx, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requestContext carries the server's logger into a request context.
func (h *apiHandler) requestContext(r *http.Request) context.Context {
	ctx := logging.WithLogger(r.Context(), logging.Logger(h.baseCtx))
	return logging.WithAttrs(ctx, append(logging.Attrs(h.baseCtx), slog.String("request_id", middleware.GetReqID(r.Context())))...)
}

func (h *apiHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *apiHandler) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page: "+err.Error())
		return
	}
	pageSize, err := optionalInt(q.Get("page_size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page_size: "+err.Error())
		return
	}

	result, err := h.svc.ListIssues(h.requestContext(r), janitor.IssueQuery{
		Page:     page,
		PageSize: pageSize,
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := issueListResponse{
		Items:      make([]issueResponse, 0, len(result.Items)),
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
	}
	for _, issue := range result.Items {
		resp.Items = append(resp.Items, toIssueResponse(issue))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issueID, ok := pathIssueID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.GetIssue(h.requestContext(r), issueID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := issueDetailResponse{
		issueResponse: toIssueResponse(detail.Issue),
		Events:        make([]eventResponse, 0, len(detail.Events)),
	}
	for _, event := range detail.Events {
		resp.Events = append(resp.Events, toEventResponse(event))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) handleTriggerFix(w http.ResponseWriter, r *http.Request) {
	issueID, ok := pathIssueID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.TriggerFix(h.requestContext(r), issueID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SyncIssues(h.requestContext(r), r.URL.Query().Get("project_key"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_key": result.ProjectKey,
		"fetched":     result.Fetched,
		"new_issues":  result.NewIssues,
		"closed":      result.Closed,
		"message":     strconv.Itoa(result.NewIssues) + " new issues synced",
	})
}

func (h *apiHandler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	events, err := h.svc.RecentEvents(h.requestContext(r), limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, toEventResponse(event))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.MetricsSummary(h.requestContext(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleEventStream tails the event log over a websocket. The client may
// pass ?after=<event id> to resume; otherwise only new events are sent.
func (h *apiHandler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	ctx := h.requestContext(r)

	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an event id")
			return
		}
		after = parsed
	} else {
		latest, err := h.svc.RecentEvents(ctx, 1)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if len(latest) > 0 {
			after = latest[0].EventID
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(ctx, "websocket upgrade failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer conn.Close()

	// The reader goroutine only notices the client going away.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		events, err := h.svc.EventsAfter(streamCtx, after, 100)
		if err != nil {
			if streamCtx.Err() == nil {
				logging.Warn(ctx, "event stream query failed", slog.Any("err", errs.Loggable(err)))
			}
			return
		}
		for _, event := range events {
			if err := conn.WriteJSON(toEventResponse(event)); err != nil {
				return
			}
			after = event.EventID
		}

		select {
		case <-streamCtx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-h.baseCtx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

// corsMiddleware answers preflight requests and echoes allowed origins.
// A "*" entry allows any origin, without credentials.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := originChecker(origins)
	allowAll := allowsAnyOrigin(origins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed(r) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				}
				if r.Method == http.MethodOptions {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowsAnyOrigin(origins []string) bool {
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

func originChecker(origins []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(origins))
	allowAll := allowsAnyOrigin(origins)
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowAll {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func toIssueResponse(issue ports.Issue) issueResponse {
	return issueResponse{
		ID:           issue.IssueID,
		SonarQubeKey: issue.ExternalKey,
		ProjectKey:   issue.ProjectKey,
		Rule:         issue.Rule,
		Severity:     issue.Severity,
		FilePath:     issue.FilePath,
		Line:         issue.Line,
		Message:      issue.Message,
		Status:       string(issue.Status),
		PRURL:        issue.PRURL,
		PRBranch:     issue.PRBranch,
		MergeOutcome: string(issue.MergeOutcome),
		CreatedAt:    issue.CreatedAt,
		UpdatedAt:    issue.UpdatedAt,
	}
}

func toEventResponse(event ports.Event) eventResponse {
	resp := eventResponse{
		ID:        event.EventID,
		IssueID:   event.IssueID,
		EventType: string(event.Kind),
		Message:   event.Message,
		CreatedAt: event.CreatedAt,
	}
	if event.Metadata != nil && json.Valid([]byte(*event.Metadata)) {
		resp.Metadata = json.RawMessage(*event.Metadata)
	}
	return resp
}

func pathIssueID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	issueID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || issueID == 0 {
		writeError(w, http.StatusBadRequest, "issue id must be a positive integer")
		return 0, false
	}
	return issueID, true
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, "issue not found")
	case errors.Is(err, domainjanitor.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
