package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/models"
	"github.com/joescharf/courseforge/internal/store"
)

// MachineLister provides the machine registry.
type MachineLister interface {
	MachineList() []*models.Machine
}

// Server exposes course generation and deploy history as MCP tools.
type Server struct {
	courses  course.Service
	store    store.Store
	machines MachineLister
	version  string
}

// NewServer creates the MCP server wrapper. Any dependency may be nil; the tools
// that need it then report an error.
func NewServer(svc course.Service, s store.Store, machines MachineLister, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{courses: svc, store: s, machines: machines, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cf", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.generateOutlineTool())
	srv.AddTool(s.generateSectionsTool())
	srv.AddTool(s.listCoursesTool())
	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.listMachinesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// cf_generate_outline
func (s *Server) generateOutlineTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cf_generate_outline",
		mcp.WithDescription("Design a course outline with the configured LLM and save it as 课程大纲.txt in the course directory. Returns the outline path and section headings."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Course title (1-100 characters)")),
		mcp.WithString("students", mcp.Required(), mcp.Description("Target students (1-100 characters)")),
		mcp.WithNumber("chapters", mcp.Description("Number of chapters, 1-10 (default 4)")),
		mcp.WithNumber("sections", mcp.Description("Sections per chapter, 1-10 (default 4)")),
	)
	return tool, s.handleGenerateOutline
}

func (s *Server) handleGenerateOutline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.courses == nil {
		return mcp.NewToolResultError("course generation is not configured"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	students, err := request.RequireString("students")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: students"), nil
	}
	req := course.Request{
		Title:    title,
		Students: students,
		Chapters: request.GetInt("chapters", 4),
		Sections: request.GetInt("sections", 4),
	}

	outline, err := s.courses.GenerateOutline(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate outline: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"dir":      outline.Dir,
		"path":     outline.Path,
		"sections": outline.Sections,
	})
}

// cf_generate_sections
func (s *Server) generateSectionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cf_generate_sections",
		mcp.WithDescription("Write one lecture file per '## ' heading of a previously generated outline. Returns the written files."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Course title used for the outline")),
	)
	return tool, s.handleGenerateSections
}

func (s *Server) handleGenerateSections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.courses == nil {
		return mcp.NewToolResultError("course generation is not configured"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	files, err := s.courses.GenerateSections(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed after %d sections: %v", len(files), err)), nil
	}

	type fileOut struct {
		Title string `json:"title"`
		Path  string `json:"path"`
	}
	out := make([]fileOut, len(files))
	for i, f := range files {
		out[i] = fileOut{Title: f.Title, Path: f.Path}
	}
	return jsonResult(out)
}

// cf_list_courses
func (s *Server) listCoursesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cf_list_courses",
		mcp.WithDescription("List generated courses, most recently updated first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of courses (default 20)")),
	)
	return tool, s.handleListCourses
}

func (s *Server) handleListCourses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("history store is not available"), nil
	}
	courses, err := s.store.ListCourses(ctx, request.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list courses: %v", err)), nil
	}

	type courseOut struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		Students     string `json:"students"`
		Chapters     int    `json:"chapters"`
		Sections     int    `json:"sections"`
		Dir          string `json:"dir"`
		SectionFiles int    `json:"section_files"`
		UpdatedAt    string `json:"updated_at"`
	}
	out := make([]courseOut, len(courses))
	for i, c := range courses {
		out[i] = courseOut{
			ID:           c.ID,
			Title:        c.Title,
			Students:     c.Students,
			Chapters:     c.Chapters,
			Sections:     c.Sections,
			Dir:          c.Dir,
			SectionFiles: c.SectionFiles,
			UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
		}
	}
	return jsonResult(out)
}

// cf_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cf_list_runs",
		mcp.WithDescription("List recent deploy pipeline runs with their stage outcomes, newest first."),
		mcp.WithString("machine", mcp.Description("Filter by machine id")),
		mcp.WithString("status", mcp.Description("Filter by status: running, succeeded, failed, cancelled")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("history store is not available"), nil
	}
	filter := store.RunListFilter{
		MachineID: request.GetString("machine", ""),
		Status:    models.RunStatus(request.GetString("status", "")),
		Limit:     request.GetInt("limit", 20),
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type stageOut struct {
		Stage   string `json:"stage"`
		OK      bool   `json:"ok"`
		Message string `json:"message,omitempty"`
	}
	type runOut struct {
		ID          string     `json:"id"`
		Machine     string     `json:"machine"`
		Target      string     `json:"target"`
		Status      string     `json:"status"`
		FailedStage string     `json:"failed_stage,omitempty"`
		Message     string     `json:"message,omitempty"`
		StartedAt   string     `json:"started_at"`
		Stages      []stageOut `json:"stages"`
	}
	out := make([]runOut, len(runs))
	for i, r := range runs {
		ro := runOut{
			ID:          r.ID,
			Machine:     r.MachineName,
			Target:      string(r.Target),
			Status:      string(r.Status),
			FailedStage: string(r.FailedStage),
			Message:     r.Message,
			StartedAt:   r.StartedAt.Format(time.RFC3339),
			Stages:      make([]stageOut, len(r.Stages)),
		}
		for j, st := range r.Stages {
			ro.Stages[j] = stageOut{Stage: string(st.Stage), OK: st.OK, Message: st.Message}
		}
		out[i] = ro
	}
	return jsonResult(out)
}

// cf_list_machines
func (s *Server) listMachinesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cf_list_machines",
		mcp.WithDescription("List registered Windows build machines. Credentials are never included."),
	)
	return tool, s.handleListMachines
}

func (s *Server) handleListMachines(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.machines == nil {
		return mcp.NewToolResultError("machine registry is not available"), nil
	}

	type machineOut struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Address    string `json:"address"`
		Username   string `json:"username"`
		RemoteRoot string `json:"remote_root"`
		CondaEnv   string `json:"conda_env"`
	}
	list := s.machines.MachineList()
	out := make([]machineOut, len(list))
	for i, m := range list {
		out[i] = machineOut{
			ID:         m.ID,
			Name:       m.Name,
			Address:    m.Address(),
			Username:   m.Username,
			RemoteRoot: m.RemoteRoot,
			CondaEnv:   m.CondaEnv,
		}
	}
	return jsonResult(out)
}
