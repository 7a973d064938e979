package worker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/privacy"
	"github.com/thebtf/mnemo/internal/search"
	"github.com/thebtf/mnemo/internal/worker/sse"
	"github.com/thebtf/mnemo/pkg/models"
)

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

// parseDate accepts epoch milliseconds or an RFC 3339 / YYYY-MM-DD date.
func parseDate(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, errors.New("invalid date " + strconv.Quote(v))
}

// searchParams reads the shared search query string. List filters accept
// repeated keys or comma-separated values.
func searchParams(r *http.Request) (search.Params, error) {
	q := r.URL.Query()
	p := search.Params{
		Query:    q.Get("query"),
		Project:  q.Get("project"),
		OrderBy:  sqlite.OrderBy(q.Get("orderBy")),
		Format:   search.Format(q.Get("format")),
		Types:    search.SplitList(q["type"]...),
		Concepts: search.SplitList(q["concepts"]...),
		Files:    search.SplitList(q["files"]...),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	var err error
	if p.DateStart, err = parseDate(q.Get("dateStart")); err != nil {
		return p, err
	}
	if p.DateEnd, err = parseDate(q.Get("dateEnd")); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type sessionInitRequest struct {
	ClaudeSessionID string `json:"claudeSessionId"`
	Project         string `json:"project"`
	Prompt          string `json:"prompt"`
	Mode            string `json:"mode"`
}

func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClaudeSessionID == "" {
		writeError(w, http.StatusBadRequest, "claudeSessionId is required")
		return
	}

	ctx := r.Context()
	cleaned := privacy.Clean(req.Prompt)
	id, err := s.sessionStore.CreateSDKSession(ctx, req.ClaudeSessionID, req.Project, cleaned, req.Mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.sessionStore.SetWorkerPort(ctx, id, s.config.WorkerPort); err != nil {
		log.Warn().Err(err).Int64("sessionDbId", id).Msg("Failed to record worker port")
	}
	sess, err := s.sessionStore.GetSessionByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess != nil && sess.Status != models.SessionStatusActive {
		if err := s.sessionStore.ReactivateSession(ctx, id, cleaned); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	promptNumber, err := s.sessionStore.IncrementPromptCounter(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var promptID int64
	if strings.TrimSpace(req.Prompt) != "" {
		if promptID, err = s.ingest.SavePrompt(ctx, req.ClaudeSessionID, promptNumber, req.Prompt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionDbId":  id,
		"promptNumber": promptNumber,
		"promptId":     promptID,
		"skipped":      promptID == 0,
	})
}

func (s *Service) handleSessionSDKID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		SDKSessionID string `json:"sdkSessionId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SDKSessionID == "" {
		writeError(w, http.StatusBadRequest, "sdkSessionId is required")
		return
	}
	updated, err := s.sessionStore.UpdateSDKSessionID(r.Context(), id, req.SDKSessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Service) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	s.finishSession(w, r, models.SessionStatusCompleted, s.sessionStore.MarkSessionCompleted)
}

func (s *Service) handleSessionFail(w http.ResponseWriter, r *http.Request) {
	s.finishSession(w, r, models.SessionStatusFailed, s.sessionStore.MarkSessionFailed)
}

func (s *Service) finishSession(w http.ResponseWriter, r *http.Request, status models.SessionStatus,
	mark func(context.Context, int64) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := mark(r.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.config.ContextSessionCount)
	if limit <= 0 || limit > search.MaxLimit {
		limit = search.MaxLimit
	}
	sessions, err := s.sessionStore.GetRecentSessionsWithStatus(r.Context(), r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleSessionDetail returns a session with everything recorded under it.
func (s *Service) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.sessionStore.FindAnySDKSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, sqlite.ErrSessionNotFound.Error())
		return
	}

	prompts, err := s.promptStore.GetUserPromptsBySession(ctx, sess.ClaudeSessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.pendingStore.GetPendingCount(ctx, sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	detail := map[string]any{
		"session":      sess,
		"prompts":      prompts,
		"observations": []*models.Observation{},
		"pending":      pending,
	}
	if sess.SDKSessionID.Valid {
		observations, err := s.observationStore.GetObservationsForSession(ctx, sess.SDKSessionID.String)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		summary, err := s.summaryStore.GetSummaryForSession(ctx, sess.SDKSessionID.String)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		detail["observations"] = observations
		detail["summary"] = summary
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Service) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	claudeSessionID := chi.URLParam(r, "id")
	if err := s.sessionStore.DeleteSession(r.Context(), claudeSessionID); err != nil {
		if errors.Is(err, sqlite.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sseBroadcaster.Publish(sse.Event{
		Type: sse.EventSessionDeleted,
		Data: map[string]string{"claudeSessionId": claudeSessionID},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type storeRequest struct {
	Observation     *models.ParsedObservation `json:"observation,omitempty"`
	Summary         *models.ParsedSummary     `json:"summary,omitempty"`
	SDKSessionID    string                    `json:"sdkSessionId"`
	Project         string                    `json:"project"`
	PromptNumber    int                       `json:"promptNumber"`
	DiscoveryTokens int64                     `json:"discoveryTokens"`
}

func (s *Service) decodeStore(w http.ResponseWriter, r *http.Request) (*storeRequest, bool) {
	var req storeRequest
	if !decodeBody(w, r, &req) {
		return nil, false
	}
	if req.SDKSessionID == "" || req.Project == "" {
		writeError(w, http.StatusBadRequest, "sdkSessionId and project are required")
		return nil, false
	}
	return &req, true
}

func (s *Service) handleStoreObservation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStore(w, r)
	if !ok {
		return
	}
	if req.Observation == nil {
		writeError(w, http.StatusBadRequest, "observation is required")
		return
	}
	id, err := s.ingest.StoreObservation(r.Context(), req.SDKSessionID, req.Project, req.Observation, req.PromptNumber, req.DiscoveryTokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Service) handleStoreSummary(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStore(w, r)
	if !ok {
		return
	}
	if req.Summary == nil {
		writeError(w, http.StatusBadRequest, "summary is required")
		return
	}
	id, err := s.ingest.StoreSummary(r.Context(), req.SDKSessionID, req.Project, req.Summary, req.PromptNumber, req.DiscoveryTokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Service) handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClaudeSessionID string `json:"claudeSessionId"`
		Prompt          string `json:"prompt"`
		PromptNumber    int    `json:"promptNumber"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClaudeSessionID == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "claudeSessionId and prompt are required")
		return
	}
	id, err := s.ingest.SavePrompt(r.Context(), req.ClaudeSessionID, req.PromptNumber, req.Prompt)
	if errors.Is(err, sqlite.ErrPromptOutOfOrder) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "skipped": id == 0})
}

type enqueueRequest struct {
	Type         models.MessageType `json:"type"`
	Payload      QueuePayload       `json:"payload"`
	SessionDBID  int64              `json:"sessionDbId"`
	PromptNumber int                `json:"promptNumber"`
}

func (s *Service) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Type {
	case models.MessageTypeObservation:
		if req.Payload.Observation == nil {
			writeError(w, http.StatusBadRequest, "payload.observation is required")
			return
		}
	case models.MessageTypeSummarize:
		if req.Payload.Summary == nil {
			writeError(w, http.StatusBadRequest, "payload.summary is required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}

	ctx := r.Context()
	sess, err := s.sessionStore.GetSessionByID(ctx, req.SessionDBID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, sqlite.ErrSessionNotFound.Error())
		return
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.pendingStore.Enqueue(ctx, sess.ID, sess.ClaudeSessionID, req.Type, string(payload), req.PromptNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.processor.Notify()
	writeJSON(w, http.StatusAccepted, map[string]int64{"id": id})
}

func (s *Service) writeResults(w http.ResponseWriter, results *search.Results, err error, format search.Format) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results.Format(format))
}

func (s *Service) handleTextSearch(w http.ResponseWriter, r *http.Request,
	run func(*search.Manager, *http.Request, search.Params) (*search.Results, error)) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := run(s.search, r, p)
	s.writeResults(w, results, err, p.Format)
}

func (s *Service) handleSearchObservations(w http.ResponseWriter, r *http.Request) {
	s.handleTextSearch(w, r, func(m *search.Manager, r *http.Request, p search.Params) (*search.Results, error) {
		return m.SearchObservations(r.Context(), p)
	})
}

func (s *Service) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	s.handleTextSearch(w, r, func(m *search.Manager, r *http.Request, p search.Params) (*search.Results, error) {
		return m.SearchSessions(r.Context(), p)
	})
}

func (s *Service) handleSearchPrompts(w http.ResponseWriter, r *http.Request) {
	s.handleTextSearch(w, r, func(m *search.Manager, r *http.Request, p search.Params) (*search.Results, error) {
		return m.SearchPrompts(r.Context(), p)
	})
}

func (s *Service) handleFindByConcept(w http.ResponseWriter, r *http.Request) {
	concept := r.URL.Query().Get("concept")
	if concept == "" {
		writeError(w, http.StatusBadRequest, "concept is required")
		return
	}
	s.handleTextSearch(w, r, func(m *search.Manager, r *http.Request, p search.Params) (*search.Results, error) {
		return m.FindByConcept(r.Context(), concept, p)
	})
}

func (s *Service) handleFindByFile(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("filePath")
	if file == "" {
		writeError(w, http.StatusBadRequest, "filePath is required")
		return
	}
	s.handleTextSearch(w, r, func(m *search.Manager, r *http.Request, p search.Params) (*search.Results, error) {
		return m.FindByFile(r.Context(), file, p)
	})
}

func (s *Service) handleFindByType(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(p.Types) == 0 {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	types := p.Types
	p.Types = nil
	results, err := s.search.FindByType(r.Context(), types, p)
	s.writeResults(w, results, err, p.Format)
}

func (s *Service) handleRecentContext(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	recent, err := s.search.RecentContext(r.Context(), project, queryInt(r, "limit", s.config.ContextObservations))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Service) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeline, err := s.search.Timeline(r.Context(), q.Get("anchor"),
		queryInt(r, "depth_before", search.DefaultDepthBefore),
		queryInt(r, "depth_after", search.DefaultDepthAfter),
		q.Get("project"))
	if err != nil {
		if errors.Is(err, sqlite.ErrInvalidAnchor) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Service) handleTimelineByQuery(w http.ResponseWriter, r *http.Request) {
	p, err := searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	mode := search.TimelineMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = search.ModeAuto
	}
	result, err := s.search.TimelineByQuery(r.Context(), mode, p,
		queryInt(r, "depth_before", search.DefaultDepthBefore),
		queryInt(r, "depth_after", search.DefaultDepthAfter))
	if err != nil {
		if errors.Is(err, search.ErrInvalidMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queue, err := s.pendingStore.CountByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	projects, err := s.sessionStore.GetAllProjects(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessionsToday, err := s.sessionStore.GetSessionsToday(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observations, err := s.observationStore.GetObservationCount(ctx, r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
		"version":       s.version,
		"search":        s.search.Metrics().Snapshot(),
		"queue":         queue,
		"projects":      projects,
		"observations":  observations,
		"sessionsToday": sessionsToday,
		"sseClients":    s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	if s.vocab == nil {
		writeError(w, http.StatusNotFound, "vocabulary not loaded")
		return
	}
	v := s.vocab.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"types":    v.Types(),
		"concepts": v.Concepts(),
		"critical": v.CriticalConcepts(),
	})
}
