package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/output"
	"github.com/joescharf/courseforge/internal/store"
)

const defaultListLimit = 50

// MachineLister provides the machine registry.
type MachineLister interface {
	MachineList() []*models.Machine
}

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	courses  course.Service
	machines MachineLister
	logs     *output.LogBuffer
}

// NewServer creates a new API server.
// courses may be nil if no LLM is configured; the generation routes then return 503.
func NewServer(s store.Store, courses course.Service, machines MachineLister, logs *output.LogBuffer) *Server {
	if logs == nil {
		logs = output.NewLogBuffer(output.DefaultLogSize)
	}
	return &Server{store: s, courses: courses, machines: machines, logs: logs}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/machines", s.listMachines)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.getRun)

	mux.HandleFunc("GET /api/v1/courses", s.listCourses)
	mux.HandleFunc("GET /api/v1/courses/{id}", s.getCourse)
	mux.HandleFunc("POST /api/v1/courses/outline", s.generateOutline)
	mux.HandleFunc("POST /api/v1/courses/sections", s.generateSections)

	mux.HandleFunc("GET /api/v1/logs", s.drainLogs)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// --- Machines ---

func (s *Server) listMachines(w http.ResponseWriter, r *http.Request) {
	out := []machineView{}
	if s.machines != nil {
		for _, m := range s.machines.MachineList() {
			out = append(out, newMachineView(m))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunListFilter{
		MachineID: q.Get("machine"),
		Status:    models.RunStatus(q.Get("status")),
		Limit:     queryLimit(r),
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runView, len(runs))
	for i, run := range runs {
		out[i] = newRunView(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

// --- Courses ---

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.store.ListCourses(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]courseView, len(courses))
	for i, c := range courses {
		out[i] = newCourseView(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCourse(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCourse(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newCourseView(c))
}

func (s *Server) generateOutline(w http.ResponseWriter, r *http.Request) {
	if s.courses == nil {
		writeError(w, http.StatusServiceUnavailable, "course generation is not configured")
		return
	}
	var req course.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Chapters == 0 {
		req.Chapters = 4
	}
	if req.Sections == 0 {
		req.Sections = 4
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logs.Logf("generating outline for %s", req.Title)
	outline, err := s.courses.GenerateOutline(r.Context(), req)
	if err != nil {
		s.logs.Logf("outline for %s failed: %v", req.Title, err)
		slog.Warn("outline generation failed", "title", req.Title, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logs.Logf("outline saved to %s", outline.Path)
	writeJSON(w, http.StatusCreated, outlineView{Dir: outline.Dir, Path: outline.Path, Sections: outline.Sections})
}

func (s *Server) generateSections(w http.ResponseWriter, r *http.Request) {
	if s.courses == nil {
		writeError(w, http.StatusServiceUnavailable, "course generation is not configured")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	s.logs.Logf("generating sections for %s", body.Title)
	files, err := s.courses.GenerateSections(r.Context(), body.Title)
	out := sectionsView{Files: make([]sectionFileView, len(files))}
	for i, f := range files {
		out.Files[i] = sectionFileView{Title: f.Title, Path: f.Path}
	}
	if err != nil {
		s.logs.Logf("sections for %s stopped after %d files: %v", body.Title, len(files), err)
		slog.Warn("section generation failed", "title", body.Title, "written", len(files), "error", err)
		out.Error = err.Error()
		status := http.StatusBadGateway
		if errors.Is(err, course.ErrNoOutline) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, out)
		return
	}
	s.logs.Logf("wrote %d section files for %s", len(files), body.Title)
	writeJSON(w, http.StatusCreated, out)
}

// --- Logs ---

func (s *Server) drainLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.logs.Drain()
	out := make([]logView, len(entries))
	for i, e := range entries {
		out[i] = logView{Time: e.Time.Format(time.RFC3339), Text: e.Text}
	}
	writeJSON(w, http.StatusOK, out)
}
