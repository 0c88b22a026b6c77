// Package course turns a course request into an outline file and one lecture
// file per outline section, using a chat completer for the content.
package course

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/joescharf/courseforge/internal/llm"
	"github.com/joescharf/courseforge/internal/models"
)

// Completer is the chat capability the generator consumes.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []llm.Message) (string, error)
}

// Recorder persists generated course metadata. Optional.
type Recorder interface {
	UpsertCourse(ctx context.Context, c *models.Course) error
}

// Service is the front-end independent course workflow.
type Service interface {
	GenerateOutline(ctx context.Context, req Request) (*Outline, error)
	GenerateSections(ctx context.Context, title string) ([]SectionFile, error)
}

// Outline is the result of GenerateOutline.
type Outline struct {
	Dir      string
	Path     string
	Content  string
	Sections []string
}

// SectionFile is one written section.
type SectionFile struct {
	Title string
	Path  string
}

// ErrNoOutline is returned by GenerateSections when the outline has not been generated yet.
var ErrNoOutline = errors.New("outline not found, generate the outline first")

// DefaultMaxHistoryPairs caps the rolling history sent with each section request.
const DefaultMaxHistoryPairs = 10

// Config configures a Generator.
type Config struct {
	Fs              afero.Fs
	BaseDir         string
	MaxHistoryPairs int
	Recorder        Recorder
	// Logf receives progress lines. Optional.
	Logf func(format string, a ...any)
	// Progress is called before each section with its 1-based index. Optional.
	Progress func(done, total int, title string)
}

// Generator implements Service on top of a filesystem.
type Generator struct {
	completer Completer
	cfg       Config
}

var _ Service = (*Generator)(nil)

// NewGenerator creates a Generator. A nil Fs means the OS filesystem.
func NewGenerator(c Completer, cfg Config) *Generator {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.MaxHistoryPairs <= 0 {
		cfg.MaxHistoryPairs = DefaultMaxHistoryPairs
	}
	return &Generator{completer: c, cfg: cfg}
}

// CourseDir returns the directory for a course title.
func (g *Generator) CourseDir(title string) string {
	return filepath.Join(g.cfg.BaseDir, Sanitize(title))
}

// OutlinePath returns the outline file path for a course title.
func (g *Generator) OutlinePath(title string) string {
	return filepath.Join(g.CourseDir(title), OutlineFileName)
}

// GenerateOutline requests a course outline and writes it to the course directory.
func (g *Generator) GenerateOutline(ctx context.Context, req Request) (*Outline, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dir, err := g.ensureCourseDir(req.Title)
	if err != nil {
		return nil, err
	}
	g.logf("course directory: %s", dir)

	prompt := OutlinePrompt(req.Title, req.Students, req.Chapters, req.Sections)
	g.logf("designing course outline...")
	content, err := g.completer.Complete(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("generate outline: %w", err)
	}
	g.logf("course outline designed")

	path := g.OutlinePath(req.Title)
	if err := afero.WriteFile(g.cfg.Fs, path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write outline: %w", err)
	}
	g.logf("course outline saved to %s", path)

	out := &Outline{Dir: dir, Path: path, Content: content, Sections: ParseSectionTitles(content)}
	g.record(ctx, &models.Course{
		Title:       req.Title,
		Students:    req.Students,
		Chapters:    req.Chapters,
		Sections:    req.Sections,
		Dir:         dir,
		OutlinePath: path,
	})
	return out, nil
}

// GenerateSections reads the saved outline for title and writes one file per section heading.
// Each request carries a rolling history trimmed to the most recent pairs.
func (g *Generator) GenerateSections(ctx context.Context, title string) ([]SectionFile, error) {
	if err := validateText("course title", title); err != nil {
		return nil, err
	}

	dir, err := g.ensureCourseDir(title)
	if err != nil {
		return nil, err
	}
	outlinePath := g.OutlinePath(title)
	data, err := afero.ReadFile(g.cfg.Fs, outlinePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read outline %s: %w", outlinePath, ErrNoOutline)
	}
	if err != nil {
		return nil, fmt.Errorf("read outline %s: %w", outlinePath, err)
	}

	titles := ParseSectionTitles(string(data))
	if len(titles) == 0 {
		return nil, fmt.Errorf("outline %s has no \"## \" section headings", outlinePath)
	}

	var history []llm.Message
	written := make([]SectionFile, 0, len(titles))
	for i, section := range titles {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if g.cfg.Progress != nil {
			g.cfg.Progress(i+1, len(titles), section)
		}
		g.logf("designing [%s]...", section)

		history = TrimHistory(history, g.cfg.MaxHistoryPairs)
		prompt := SectionPrompt(section)
		content, err := g.completer.Complete(ctx, prompt, history)
		if err != nil {
			return written, fmt.Errorf("generate section %q: %w", section, err)
		}
		g.logf("[%s] designed", section)

		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: prompt},
			llm.Message{Role: llm.RoleAssistant, Content: content},
		)

		path := filepath.Join(dir, Sanitize(section)+".txt")
		body := fmt.Sprintf("# %s\n\n%s", section, content)
		if err := afero.WriteFile(g.cfg.Fs, path, []byte(body), 0o644); err != nil {
			return written, fmt.Errorf("write section %q: %w", section, err)
		}
		g.logf("[%s] saved to %s", section, path)
		written = append(written, SectionFile{Title: section, Path: path})
	}

	g.record(ctx, &models.Course{
		Title:        title,
		Dir:          dir,
		OutlinePath:  outlinePath,
		SectionFiles: len(written),
	})
	return written, nil
}

func (g *Generator) ensureCourseDir(title string) (string, error) {
	dir := g.CourseDir(title)
	if err := g.cfg.Fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create course directory: %w", err)
	}
	return dir, nil
}

func (g *Generator) record(ctx context.Context, c *models.Course) {
	if g.cfg.Recorder == nil {
		return
	}
	c.UpdatedAt = time.Now().UTC()
	if err := g.cfg.Recorder.UpsertCourse(ctx, c); err != nil {
		g.logf("warning: record course: %v", err)
	}
}

func (g *Generator) logf(format string, a ...any) {
	if g.cfg.Logf != nil {
		g.cfg.Logf(format, a...)
	}
}
