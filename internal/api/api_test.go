package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/llm"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/output"
	"github.com/joescharf/courseforge/internal/store"
)

// scriptedCompleter answers outline prompts with a two-section outline and
// everything else with a fixed lecture body.
type scriptedCompleter struct {
	err   error
	calls int
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string, _ []llm.Message) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if strings.Contains(prompt, "课程大纲") {
		return "# 第一章\n## 1.1 呼吸\n## 1.2 站姿\n", nil
	}
	return "讲义内容", nil
}

type machineList []*models.Machine

func (l machineList) MachineList() []*models.Machine { return l }

type testEnv struct {
	srv    *Server
	store  store.Store
	fs     afero.Fs
	llm    *scriptedCompleter
	logs   *output.LogBuffer
	router http.Handler
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	fs := afero.NewMemMapFs()
	completer := &scriptedCompleter{}
	gen := course.NewGenerator(completer, course.Config{Fs: fs, BaseDir: "/courses", Recorder: s})
	logs := output.NewLogBuffer(10)
	machines := machineList{
		{ID: "1", Name: "win-01", Host: "10.0.0.5", Username: "builder", Password: "hunter2", RemoteRoot: `D:\iCode\App`},
		{ID: "2", Name: "win-02", Host: "10.0.0.6", Port: 2222, Username: "builder", PasswordEnv: "WIN02_PASS"},
	}
	srv := NewServer(s, gen, machines, logs)

	return &testEnv{srv: srv, store: s, fs: fs, llm: completer, logs: logs, router: srv.Router()}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func seedRun(t *testing.T, s store.Store, machineID string, status models.RunStatus) *models.Run {
	t.Helper()
	ended := time.Now().UTC()
	run := &models.Run{
		MachineID:   machineID,
		MachineName: "win-" + machineID,
		Host:        "10.0.0.5",
		Target:      models.TargetWindows,
		Status:      status,
		EndedAt:     &ended,
		Stages: []models.StageResult{
			{Stage: models.StageClean, OK: true, Duration: 1500 * time.Millisecond},
		},
	}
	if status == models.RunStatusFailed {
		run.FailedStage = models.StageSync
		run.Stages = append(run.Stages, models.StageResult{Stage: models.StageSync, Message: "file count mismatch: local 3, remote 2"})
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestListMachines_NoCredentials(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("GET", "/api/v1/machines", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.NotContains(t, w.Body.String(), "WIN02_PASS")

	var machines []machineView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &machines))
	require.Len(t, machines, 2)
	assert.Equal(t, "10.0.0.5:22", machines[0].Address)
	assert.Equal(t, "10.0.0.6:2222", machines[1].Address)
}

func TestListMachines_NoRegistry(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/machines", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListRuns_Empty(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("GET", "/api/v1/runs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRuns_ListFilterAndGet(t *testing.T) {
	env := setupTestServer(t)
	failed := seedRun(t, env.store, "1", models.RunStatusFailed)
	seedRun(t, env.store, "2", models.RunStatusSucceeded)

	w := env.do("GET", "/api/v1/runs?status=failed", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var runs []runView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, failed.ID, runs[0].ID)
	assert.Equal(t, "sync", runs[0].FailedStage)

	w = env.do("GET", "/api/v1/runs?machine=2&limit=5", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "2", runs[0].MachineID)

	w = env.do("GET", "/api/v1/runs/"+failed.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var got runView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Stages, 2)
	assert.Equal(t, int64(1500), got.Stages[0].DurationMS)
	assert.Contains(t, got.Stages[1].Message, "file count mismatch")
	assert.NotNil(t, got.EndedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("GET", "/api/v1/runs/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCourses_OutlineThenSections(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("POST", "/api/v1/courses/outline", `{"title":"瑜伽入门","students":"初学者","chapters":1,"sections":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var outline outlineView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outline))
	assert.Equal(t, []string{"1.1 呼吸", "1.2 站姿"}, outline.Sections)
	exists, err := afero.Exists(env.fs, outline.Path)
	require.NoError(t, err)
	assert.True(t, exists)

	w = env.do("POST", "/api/v1/courses/sections", `{"title":"瑜伽入门"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sections sectionsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sections))
	require.Len(t, sections.Files, 2)
	assert.Empty(t, sections.Error)

	w = env.do("GET", "/api/v1/courses", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var courses []courseView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &courses))
	require.Len(t, courses, 1)
	assert.Equal(t, "瑜伽入门", courses[0].Title)
	assert.Equal(t, 2, courses[0].SectionFiles)

	w = env.do("GET", "/api/v1/courses/"+courses[0].ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateOutline_Validation(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("POST", "/api/v1/courses/outline", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/courses/outline", `{"title":"","students":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "course title")

	w = env.do("POST", "/api/v1/courses/outline", `{"title":"x","students":"y","chapters":11}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.llm.calls, "invalid requests never reach the LLM")
}

func TestGenerateOutline_UpstreamError(t *testing.T) {
	env := setupTestServer(t)
	env.llm.err = errors.New("api down")

	w := env.do("POST", "/api/v1/courses/outline", `{"title":"x","students":"y"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "api down")
}

func TestGenerateSections_NoOutline(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("POST", "/api/v1/courses/sections", `{"title":"没有大纲"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/api/v1/courses/sections", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeneration_NotConfigured(t *testing.T) {
	env := setupTestServer(t)
	srv := NewServer(env.store, nil, nil, nil)

	for _, path := range []string{"/api/v1/courses/outline", "/api/v1/courses/sections"} {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest("POST", path, bytes.NewBufferString(`{"title":"x"}`)))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestLogs_Drain(t *testing.T) {
	env := setupTestServer(t)
	env.logs.Add("first")
	env.logs.Add("second")

	w := env.do("GET", "/api/v1/logs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var entries []logView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Text)

	w = env.do("GET", "/api/v1/logs", "")
	assert.JSONEq(t, "[]", w.Body.String(), "drained lines are not returned twice")
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("OPTIONS", "/api/v1/runs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
