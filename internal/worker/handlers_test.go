package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/vector"
	"github.com/thebtf/mnemo/internal/vector/vectortest"
	"github.com/thebtf/mnemo/pkg/models"
)

// testService creates a ready Service over a temp database. A nil client
// runs with the semantic path disabled.
func testService(t *testing.T, client vector.Client) *Service {
	t.Helper()

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "worker.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(Options{
		Config:  config.Default(),
		Store:   store,
		Vector:  client,
		Version: "test-version",
	})
	svc.SetReady(true)
	return svc
}

func doJSON(t *testing.T, svc *Service, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func storeObservation(t *testing.T, svc *Service, sdk, project string, obs *models.ParsedObservation) int64 {
	t.Helper()
	rec := doJSON(t, svc, http.MethodPost, "/api/observations", map[string]any{
		"sdkSessionId": sdk,
		"project":      project,
		"promptNumber": 1,
		"observation":  obs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[map[string]int64](t, rec)["id"]
}

func TestHandleHealth_ReturnsVersion(t *testing.T) {
	svc := testService(t, nil)
	svc.version = "test-version-1.2.3"

	rec := doJSON(t, svc, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	response := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", response["status"])
	assert.Equal(t, "test-version-1.2.3", response["version"])
}

func TestHandleVersion(t *testing.T) {
	svc := testService(t, nil)
	svc.version = "v2.0.0-beta"

	rec := doJSON(t, svc, http.MethodGet, "/api/version", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2.0.0-beta", decode[map[string]string](t, rec)["version"])
}

func TestHandleReady(t *testing.T) {
	svc := testService(t, nil)

	svc.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, svc, http.MethodGet, "/api/ready", nil).Code)
	// health answers while starting
	assert.Equal(t, http.StatusOK, doJSON(t, svc, http.MethodGet, "/health", nil).Code)

	svc.SetReady(true)
	rec := doJSON(t, svc, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rec)["status"])
}

func TestRequireReadyMiddleware(t *testing.T) {
	svc := testService(t, nil)
	handler := svc.requireReady(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))

	svc.SetReady(false)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.SetReady(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())

	svc.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable,
		doJSON(t, svc, http.MethodGet, "/api/search/observations?query=x", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	svc := testService(t, nil)

	init := func(prompt string) map[string]any {
		rec := doJSON(t, svc, http.MethodPost, "/api/sessions/init", map[string]string{
			"claudeSessionId": "claude-1",
			"project":         "alpha",
			"prompt":          prompt,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[map[string]any](t, rec)
	}

	first := init("explain the pager")
	second := init("<private>secret plan</private>")
	assert.Equal(t, first["sessionDbId"], second["sessionDbId"])
	assert.EqualValues(t, 1, first["promptNumber"])
	assert.EqualValues(t, 2, second["promptNumber"])
	assert.Equal(t, false, first["skipped"])
	assert.Equal(t, true, second["skipped"])

	id := strconv.FormatInt(int64(first["sessionDbId"].(float64)), 10)

	rec := doJSON(t, svc, http.MethodPost, "/api/sessions/"+id+"/sdk-id", map[string]string{"sdkSessionId": "sdk-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["updated"])

	rec = doJSON(t, svc, http.MethodPost, "/api/sessions/"+id+"/sdk-id", map[string]string{"sdkSessionId": "sdk-2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["updated"], "sdk id is write-once")

	assert.Equal(t, http.StatusOK, doJSON(t, svc, http.MethodPost, "/api/sessions/"+id+"/complete", nil).Code)

	sess, err := svc.sessionStore.GetSessionByID(context.Background(), int64(first["sessionDbId"].(float64)))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)

	third := init("back again")
	assert.EqualValues(t, 3, third["promptNumber"])
	sess, err = svc.sessionStore.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
}

func TestSessionNotFound(t *testing.T) {
	svc := testService(t, nil)

	assert.Equal(t, http.StatusNotFound, doJSON(t, svc, http.MethodPost, "/api/sessions/999/complete", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, svc, http.MethodDelete, "/api/sessions/nobody", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, svc, http.MethodPost, "/api/sessions/abc/complete", nil).Code)
}

func TestSessionDetailAndList(t *testing.T) {
	svc := testService(t, nil)

	rec := doJSON(t, svc, http.MethodPost, "/api/sessions/init", map[string]string{
		"claudeSessionId": "claude-2",
		"project":         "alpha",
		"prompt":          "tidy the pager",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := strconv.FormatInt(int64(decode[map[string]any](t, rec)["sessionDbId"].(float64)), 10)
	require.Equal(t, http.StatusOK,
		doJSON(t, svc, http.MethodPost, "/api/sessions/"+id+"/sdk-id", map[string]string{"sdkSessionId": "sdk-2"}).Code)
	storeObservation(t, svc, "sdk-2", "alpha", &models.ParsedObservation{Type: models.ObsTypeChange, Title: "Pager tidied"})

	rec = doJSON(t, svc, http.MethodGet, "/api/sessions/claude-2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode[map[string]any](t, rec)
	session := detail["session"].(map[string]any)
	assert.Equal(t, "sdk-2", session["sdk_session_id"])
	assert.EqualValues(t, config.DefaultWorkerPort, session["worker_port"])
	assert.Len(t, detail["prompts"], 1)
	assert.Len(t, detail["observations"], 1)
	assert.EqualValues(t, 0, detail["pending"])

	assert.Equal(t, http.StatusNotFound, doJSON(t, svc, http.MethodGet, "/api/sessions/nobody", nil).Code)

	rec = doJSON(t, svc, http.MethodGet, "/api/sessions?project=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]map[string]any](t, rec)["sessions"], 1)

	rec = doJSON(t, svc, http.MethodGet, "/api/sessions?project=beta", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]map[string]any](t, rec)["sessions"])
}

func TestSessionFailAndOrphans(t *testing.T) {
	svc := testService(t, nil)
	ctx := context.Background()

	failed, err := svc.sessionStore.CreateSDKSession(ctx, "claude-f", "alpha", "", "")
	require.NoError(t, err)
	rec := doJSON(t, svc, http.MethodPost, "/api/sessions/"+strconv.FormatInt(failed, 10)+"/fail", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decode[map[string]string](t, rec)["status"])

	active, err := svc.sessionStore.CreateSDKSession(ctx, "claude-o", "alpha", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.CleanupOrphans(ctx, time.Hour))
	sess, err := svc.sessionStore.GetSessionByID(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, sess.Status, "recent sessions are left alone")

	require.NoError(t, svc.CleanupOrphans(ctx, -time.Minute))
	sess, err = svc.sessionStore.GetSessionByID(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, sess.Status)
}

func TestSavePrompt_Numbering(t *testing.T) {
	svc := testService(t, nil)

	save := func(number int) *httptest.ResponseRecorder {
		return doJSON(t, svc, http.MethodPost, "/api/prompts", map[string]any{
			"claudeSessionId": "claude-p",
			"prompt":          "prompt " + strconv.Itoa(number),
			"promptNumber":    number,
		})
	}

	tests := []struct {
		name   string
		number int
		want   int
	}{
		{name: "explicit", number: 5, want: http.StatusCreated},
		{name: "lower explicit", number: 3, want: http.StatusConflict},
		{name: "repeated explicit", number: 5, want: http.StatusConflict},
		{name: "auto after explicit", number: 0, want: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := save(tt.number)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	prompts, err := svc.promptStore.GetUserPromptsBySession(context.Background(), "claude-p")
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Equal(t, 5, prompts[0].PromptNumber)
	assert.Equal(t, 6, prompts[1].PromptNumber)
}

func TestDeleteSession_RemovesSemanticDocuments(t *testing.T) {
	fake := vectortest.New()
	svc := testService(t, fake)

	storeObservation(t, svc, "sdk-del", "alpha", &models.ParsedObservation{
		Type:      models.ObsTypeDiscovery,
		Title:     "Cache warmup",
		Narrative: "cache warms on boot",
		Facts:     []string{"warmup takes two seconds"},
	})
	require.NotEmpty(t, fake.IDs())

	rec := doJSON(t, svc, http.MethodDelete, "/api/sessions/sdk-del", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, fake.IDs())

	rec = doJSON(t, svc, http.MethodGet, "/api/search/observations?query=cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["total_count"])
}

func TestStoreAndSearch(t *testing.T) {
	fake := vectortest.New()
	svc := testService(t, fake)

	id := storeObservation(t, svc, "sdk-a", "alpha", &models.ParsedObservation{
		Type:      models.ObsTypeBugfix,
		Title:     "Fix pager bound",
		Narrative: "pager skipped the last row <private>token=abc</private>",
		Concepts:  []string{"Gotcha", "gotcha"},
	})

	obs, err := svc.observationStore.GetObservationByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotContains(t, obs.Narrative.String, "token=abc")
	assert.Equal(t, []string{"gotcha"}, []string(obs.Concepts))
	assert.Positive(t, obs.ReadTokens)

	rec := doJSON(t, svc, http.MethodGet, "/api/search/observations?query=pager&format=full", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[map[string]any](t, rec)
	assert.Equal(t, "semantic", response["source"])
	assert.Equal(t, "full", response["format"])
	results := response["results"].([]any)
	require.Len(t, results, 1)
	assert.EqualValues(t, id, results[0].(map[string]any)["id"])

	summaryRec := doJSON(t, svc, http.MethodPost, "/api/summaries", map[string]any{
		"sdkSessionId": "sdk-a",
		"project":      "alpha",
		"summary":      models.ParsedSummary{Request: "Fix pager", Learned: "bound was inclusive"},
	})
	require.Equal(t, http.StatusCreated, summaryRec.Code, summaryRec.Body.String())

	rec = doJSON(t, svc, http.MethodGet, "/api/search/sessions?query=pager", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["total_count"])
}

func TestSearch_LexicalWithoutBackend(t *testing.T) {
	svc := testService(t, nil)

	storeObservation(t, svc, "sdk-a", "alpha", &models.ParsedObservation{
		Type:      models.ObsTypeFeature,
		Title:     "Listing pager",
		Narrative: "pager for the listing view",
		FilesRead: []string{"ui/pager.go"},
	})

	tests := []struct {
		name   string
		target string
		total  int
	}{
		{"text search", "/api/search/observations?query=pager", 1},
		{"project filter", "/api/search/observations?query=pager&project=beta", 0},
		{"type filter", "/api/search/observations?query=pager&type=bugfix,feature", 1},
		{"by type", "/api/search/by-type?type=feature", 1},
		{"by file", "/api/search/by-file?filePath=pager.go", 1},
		{"by concept", "/api/search/by-concept?concept=gotcha", 0},
		{"date window", "/api/search/observations?query=pager&dateEnd=2000-01-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, svc, http.MethodGet, tt.target, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			response := decode[map[string]any](t, rec)
			assert.Equal(t, "lexical", response["source"])
			assert.EqualValues(t, tt.total, response["total_count"])
		})
	}
}

func TestRequiredParams(t *testing.T) {
	svc := testService(t, nil)

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"concept missing", "/api/search/by-concept", http.StatusBadRequest},
		{"file missing", "/api/search/by-file", http.StatusBadRequest},
		{"type missing", "/api/search/by-type", http.StatusBadRequest},
		{"bad date", "/api/search/observations?query=x&dateStart=yesterday", http.StatusBadRequest},
		{"recent needs project", "/api/context/recent", http.StatusBadRequest},
		{"recent with project", "/api/context/recent?project=alpha", http.StatusOK},
		{"bad anchor", "/api/timeline?anchor=nope", http.StatusBadRequest},
		{"query missing", "/api/timeline/by-query", http.StatusBadRequest},
		{"bad mode", "/api/timeline/by-query?query=x&mode=sideways", http.StatusBadRequest},
		{"no hits", "/api/timeline/by-query?query=x", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, svc, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestTimelineEndpoints(t *testing.T) {
	svc := testService(t, nil)

	var ids []int64
	for _, title := range []string{"first step", "second step", "third step"} {
		ids = append(ids, storeObservation(t, svc, "sdk-t", "alpha", &models.ParsedObservation{
			Type:      models.ObsTypeChange,
			Title:     title,
			Narrative: title + " narrative",
		}))
	}

	rec := doJSON(t, svc, http.MethodGet, "/api/timeline?anchor="+strconv.FormatInt(ids[1], 10)+"&depth_before=1&depth_after=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[map[string]any](t, rec)["observations"], 3)

	rec = doJSON(t, svc, http.MethodGet, "/api/timeline/by-query?query=second&depth_before=0&depth_after=0", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	response := decode[map[string]any](t, rec)
	anchor := response["anchor"].(map[string]any)
	assert.EqualValues(t, ids[1], anchor["id"])

	rec = doJSON(t, svc, http.MethodGet, "/api/timeline/by-query?query=step&mode=interactive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string]any](t, rec)["candidates"], 3)
}

func TestEnqueueAndProcess(t *testing.T) {
	svc := testService(t, nil)
	ctx := context.Background()

	sessionID, err := svc.sessionStore.CreateSDKSession(ctx, "claude-q", "alpha", "", "")
	require.NoError(t, err)

	rec := doJSON(t, svc, http.MethodPost, "/api/queue", map[string]any{
		"sessionDbId":  sessionID,
		"type":         models.MessageTypeObservation,
		"promptNumber": 1,
		"payload": QueuePayload{Observation: &models.ParsedObservation{
			Type:  models.ObsTypeDiscovery,
			Title: "Queued finding",
		}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	n, err := svc.Processor().ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	observations, err := svc.observationStore.GetRecentObservations(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "Queued finding", observations[0].Title.String)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown type", map[string]any{"sessionDbId": sessionID, "type": "poke"}, http.StatusBadRequest},
		{"missing summary", map[string]any{"sessionDbId": sessionID, "type": models.MessageTypeSummarize}, http.StatusBadRequest},
		{"unknown session", map[string]any{
			"sessionDbId": 999,
			"type":        models.MessageTypeSummarize,
			"payload":     QueuePayload{Summary: &models.ParsedSummary{Request: "x"}},
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doJSON(t, svc, http.MethodPost, "/api/queue", tt.body).Code)
		})
	}
}

func TestHandleStats(t *testing.T) {
	svc := testService(t, nil)
	storeObservation(t, svc, "sdk-s", "alpha", &models.ParsedObservation{Title: "stat me"})
	doJSON(t, svc, http.MethodGet, "/api/search/observations?query=stat", nil)

	rec := doJSON(t, svc, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	response := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, response["observations"])
	assert.Equal(t, []any{"alpha"}, response["projects"])
	searchStats := response["search"].(map[string]any)
	assert.EqualValues(t, 1, searchStats["total_searches"])
	assert.EqualValues(t, 1, searchStats["fallback_searches"])
}
