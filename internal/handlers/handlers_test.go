package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/batcher"
	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/handlers"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/service"
	"github.com/reviewlens/reviewlens/internal/store"
)

type testAPI struct {
	server *httptest.Server
	store  store.Store
	bus    *events.Bus
	jobs   *service.JobService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.NewDefault()

	db, err := store.InitDB(cfg)
	require.NoError(t, err)
	s := store.NewStore(db)
	require.NoError(t, s.InitialMigration())
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(cfg.Events.SubscriberBuffer, cfg.Events.RetentionWindow)
	analyzer := pipeline.NewHeuristicAnalyzer(cfg.Analysis.AnalyzerRPS)
	business := service.NewBusinessService(s, scraper.NewFixtureScraper(), analyzer, service.AnalysisDefaults{
		Batchers:  cfg.Analysis.DefaultBatchers,
		BatchSize: cfg.Analysis.BatchSize,
		PoolSize:  cfg.Analysis.PoolSize,
	})
	jobs := service.NewJobService(s, bus)

	router := chi.NewRouter()
	router.Route("/api/v1alpha1", handlers.NewHandler(jobs, business, bus).Routes)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testAPI{server: server, store: s, bus: bus, jobs: jobs}
}

func (a *testAPI) url(path string) string {
	return a.server.URL + "/api/v1alpha1" + path
}

func (a *testAPI) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.url(path), "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateJob(t *testing.T) {
	a := newTestAPI(t)

	resp := a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe", Force: true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	job := decodeBody[api.Job](t, resp)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, api.JobStatusQueued, job.Status)
	assert.Equal(t, "interactive", job.Strategy)
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name": `},
		{"missing name", `{}`},
		{"unknown strategy", `{"name": "Casa Pepe", "strategy": "teleport"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(a.url("/jobs"), "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			apiErr := decodeBody[api.Error](t, resp)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestGetJob(t *testing.T) {
	a := newTestAPI(t)

	created := decodeBody[api.Job](t, a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe"}))

	resp, err := http.Get(a.url("/jobs/" + created.ID.String()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decodeBody[api.Job](t, resp)
	assert.Equal(t, created.ID, fetched.ID)

	resp, err = http.Get(a.url("/jobs/" + uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(a.url("/jobs/not-a-uuid"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListJobsFiltersByStatus(t *testing.T) {
	a := newTestAPI(t)

	a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe"}).Body.Close()
	a.postJSON(t, "/jobs", api.JobCreate{Name: "Bar Manolo"}).Body.Close()

	resp, err := http.Get(a.url("/jobs?status=queued"))
	require.NoError(t, err)
	list := decodeBody[api.JobList](t, resp)
	assert.Equal(t, int64(2), list.Total)

	resp, err = http.Get(a.url("/jobs?status=done"))
	require.NoError(t, err)
	list = decodeBody[api.JobList](t, resp)
	assert.Equal(t, int64(0), list.Total)
}

func TestReanalyzeErrorMapping(t *testing.T) {
	a := newTestAPI(t)

	resp := a.postJSON(t, fmt.Sprintf("/businesses/%s/reanalyze", uuid.NewString()), api.ReanalyzeRequest{
		Batchers: []string{"bogus"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	apiErr := decodeBody[api.Error](t, resp)
	assert.Contains(t, apiErr.Message, "bogus")
	assert.Contains(t, apiErr.Message, batcher.LatestText)

	// with valid batchers the missing business surfaces as 404
	resp = a.postJSON(t, fmt.Sprintf("/businesses/%s/reanalyze", uuid.NewString()), api.ReanalyzeRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetBusinessNotFound(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.url("/businesses/" + uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func readEventStream(t *testing.T, resp *http.Response) []events.ProgressEvent {
	t.Helper()
	defer resp.Body.Close()

	var parsed []events.ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		parsed = append(parsed, event)
	}
	return parsed
}

func TestStreamJobEvents(t *testing.T) {
	a := newTestAPI(t)

	job := decodeBody[api.Job](t, a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.bus.Publish(job.ID, events.StageScraping, "Scraping business page.", nil)
		a.bus.Publish(job.ID, events.StageCompleted, "Job completed.", nil)
	}()

	resp, err := http.Get(a.url("/jobs/" + job.ID.String() + "/events"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	streamed := readEventStream(t, resp)
	require.Len(t, streamed, 3)
	assert.Equal(t, events.StageQueued, streamed[0].Stage)
	assert.Equal(t, int64(1), streamed[0].Sequence)
	assert.Equal(t, events.StageScraping, streamed[1].Stage)
	assert.Equal(t, events.StageCompleted, streamed[2].Stage)
}

func TestStreamJobEventsReplayOffset(t *testing.T) {
	a := newTestAPI(t)

	job := decodeBody[api.Job](t, a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe"}))
	a.bus.Publish(job.ID, events.StageScraping, "Scraping business page.", nil)
	a.bus.Publish(job.ID, events.StageFailed, "scrape timed out", nil)

	resp, err := http.Get(a.url("/jobs/" + job.ID.String() + "/events?from_seq=2"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	streamed := readEventStream(t, resp)
	require.Len(t, streamed, 2)
	assert.Equal(t, int64(2), streamed[0].Sequence)
	assert.Equal(t, events.StageFailed, streamed[1].Stage)

	resp, err = http.Get(a.url("/jobs/" + job.ID.String() + "/events?from_seq=0"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStreamSynthesizesTerminalEventAfterPurge(t *testing.T) {
	a := newTestAPI(t)

	job := decodeBody[api.Job](t, a.postJSON(t, "/jobs", api.JobCreate{Name: "Casa Pepe"}))

	// finish the job behind the bus's back, as if another process ran it
	claimed, _, err := a.store.Job().ClaimNext(context.TODO(), "other-worker", time.Minute, 3)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	_, err = a.store.Job().Complete(context.TODO(), job.ID, "other-worker", []byte(`{"cached":false}`))
	require.NoError(t, err)

	resp, err := http.Get(a.url("/jobs/" + job.ID.String() + "/events"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	streamed := readEventStream(t, resp)
	require.NotEmpty(t, streamed)
	last := streamed[len(streamed)-1]
	assert.Equal(t, events.StageCompleted, last.Stage)
}

func TestStreamUnknownJob(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.url("/jobs/" + uuid.NewString() + "/events"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
