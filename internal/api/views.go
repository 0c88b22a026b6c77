package api

import (
	"time"

	"github.com/joescharf/courseforge/internal/models"
)

// machineView is the wire form of a registry entry. Credentials are never serialized.
type machineView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Username   string `json:"username"`
	RemoteRoot string `json:"remote_root"`
	CondaEnv   string `json:"conda_env"`
}

func newMachineView(m *models.Machine) machineView {
	return machineView{
		ID:         m.ID,
		Name:       m.Name,
		Address:    m.Address(),
		Username:   m.Username,
		RemoteRoot: m.RemoteRoot,
		CondaEnv:   m.CondaEnv,
	}
}

type stageView struct {
	Stage      string `json:"stage"`
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type runView struct {
	ID          string      `json:"id"`
	MachineID   string      `json:"machine_id"`
	MachineName string      `json:"machine_name"`
	Host        string      `json:"host"`
	Target      string      `json:"target"`
	Status      string      `json:"status"`
	FailedStage string      `json:"failed_stage,omitempty"`
	Message     string      `json:"message,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	Stages      []stageView `json:"stages"`
}

func newRunView(r *models.Run) runView {
	v := runView{
		ID:          r.ID,
		MachineID:   r.MachineID,
		MachineName: r.MachineName,
		Host:        r.Host,
		Target:      string(r.Target),
		Status:      string(r.Status),
		FailedStage: string(r.FailedStage),
		Message:     r.Message,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Stages:      make([]stageView, len(r.Stages)),
	}
	for i, st := range r.Stages {
		v.Stages[i] = stageView{
			Stage:      string(st.Stage),
			OK:         st.OK,
			Message:    st.Message,
			DurationMS: st.Duration.Milliseconds(),
		}
	}
	return v
}

type courseView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Students     string    `json:"students,omitempty"`
	Chapters     int       `json:"chapters,omitempty"`
	Sections     int       `json:"sections,omitempty"`
	Dir          string    `json:"dir"`
	OutlinePath  string    `json:"outline_path,omitempty"`
	SectionFiles int       `json:"section_files"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newCourseView(c *models.Course) courseView {
	return courseView{
		ID:           c.ID,
		Title:        c.Title,
		Students:     c.Students,
		Chapters:     c.Chapters,
		Sections:     c.Sections,
		Dir:          c.Dir,
		OutlinePath:  c.OutlinePath,
		SectionFiles: c.SectionFiles,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type outlineView struct {
	Dir      string   `json:"dir"`
	Path     string   `json:"path"`
	Sections []string `json:"sections"`
}

type sectionFileView struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

type sectionsView struct {
	Files []sectionFileView `json:"files"`
	Error string            `json:"error,omitempty"`
}

type logView struct {
	Time string `json:"time"`
	Text string `json:"text"`
}
