package course

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/courseforge/internal/llm"
)

const (
	// BaseDirName is the folder that holds every generated course.
	BaseDirName = "优课工坊"
	// OutlineFileName is the outline file inside a course directory.
	OutlineFileName = "课程大纲.txt"

	maxTextLen  = 100
	minSections = 1
	maxSections = 10
)

var illegalFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// Sanitize strips characters that are illegal in file names and replaces spaces with underscores.
func Sanitize(name string) string {
	return strings.ReplaceAll(illegalFilenameChars.ReplaceAllString(name, ""), " ", "_")
}

// ParseSectionTitles returns the text of every second-level ("## ") heading, in order.
func ParseSectionTitles(outline string) []string {
	var titles []string
	sc := bufio.NewScanner(strings.NewReader(outline))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "## ") {
			if t := strings.TrimSpace(line[3:]); t != "" {
				titles = append(titles, t)
			}
		}
	}
	return titles
}

// TrimHistory keeps at most the most recent maxPairs user/assistant pairs.
func TrimHistory(history []llm.Message, maxPairs int) []llm.Message {
	if maxPairs <= 0 {
		return nil
	}
	limit := maxPairs * 2
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// DefaultBaseDir is D:\优课工坊 on Windows and ~/Desktop/优课工坊 elsewhere.
func DefaultBaseDir(goos, home string) string {
	if goos == "windows" {
		return `D:\` + BaseDirName
	}
	return filepath.Join(home, "Desktop", BaseDirName)
}

// Request describes the course to outline.
type Request struct {
	Title    string `json:"title"`
	Students string `json:"students"`
	Chapters int    `json:"chapters"`
	Sections int    `json:"sections"`
}

// Validate checks the bounds the outline prompt assumes.
func (r Request) Validate() error {
	if err := validateText("course title", r.Title); err != nil {
		return err
	}
	if err := validateText("target students", r.Students); err != nil {
		return err
	}
	if r.Chapters < minSections || r.Chapters > maxSections {
		return fmt.Errorf("chapters must be between %d and %d, got %d", minSections, maxSections, r.Chapters)
	}
	if r.Sections < minSections || r.Sections > maxSections {
		return fmt.Errorf("sections per chapter must be between %d and %d, got %d", minSections, maxSections, r.Sections)
	}
	return nil
}

func validateText(field, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if utf8.RuneCountInString(v) > maxTextLen {
		return fmt.Errorf("%s must be at most %d characters", field, maxTextLen)
	}
	return nil
}
