package cmd

import (
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/output"
)

var (
	courseTitle    string
	courseStudents string
	courseChapters int
	courseSections int
	courseLimit    int
)

var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "Generate course outlines and lecture scripts",
	Long: `Generate a course in two steps:

  cf course outline --title 瑜伽入门 --students 初学者
  cf course sections --title 瑜伽入门

The outline is saved as 课程大纲.txt in <course.base_dir>/<title>; sections
writes one file per "## " heading of that outline.`,
}

var courseOutlineCmd = &cobra.Command{
	Use:   "outline",
	Short: "Design a course outline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		req := course.Request{Title: courseTitle, Students: courseStudents, Chapters: courseChapters, Sections: courseSections}
		if err := req.Validate(); err != nil {
			return err
		}
		gen, err := courseGenerator()
		if err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would write %s", gen.OutlinePath(req.Title))
			return nil
		}

		ui.Info("Designing outline for %s (%d chapters x %d sections)...", output.Cyan(req.Title), req.Chapters, req.Sections)
		outline, err := gen.GenerateOutline(ctx, req)
		if err != nil {
			return fmt.Errorf("generate outline: %w", err)
		}
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, outline.Content)
		fmt.Fprintln(ui.Out)
		ui.Success("Outline saved to %s (%d sections)", outline.Path, len(outline.Sections))
		return nil
	},
}

var courseSectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Write one lecture file per outline section",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		gen, err := courseGenerator()
		if err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would read %s and write section files to %s", gen.OutlinePath(courseTitle), gen.CourseDir(courseTitle))
			return nil
		}

		files, err := gen.GenerateSections(ctx, courseTitle)
		for _, f := range files {
			ui.VerboseLog("%s", f.Path)
		}
		if err != nil {
			return fmt.Errorf("stopped after %d sections: %w", len(files), err)
		}
		ui.Success("Wrote %d section files to %s", len(files), gen.CourseDir(courseTitle))
		return nil
	},
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generated courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		courses, err := s.ListCourses(cmd.Context(), courseLimit)
		if err != nil {
			return err
		}
		if len(courses) == 0 {
			ui.Info("No courses generated yet. Use 'cf course outline' to start one.")
			return nil
		}

		table := ui.Table([]string{"Title", "Students", "Shape", "Sections Written", "Updated", "Directory"})
		for _, c := range courses {
			shape := "-"
			if c.Chapters > 0 {
				shape = fmt.Sprintf("%dx%d", c.Chapters, c.Sections)
			}
			_ = table.Append([]string{
				output.Cyan(c.Title),
				c.Students,
				shape,
				fmt.Sprintf("%d", c.SectionFiles),
				c.UpdatedAt.Local().Format("2006-01-02 15:04"),
				c.Dir,
			})
		}
		_ = table.Render()
		return nil
	},
}

func init() {
	courseOutlineCmd.Flags().StringVar(&courseTitle, "title", "", "Course title (required)")
	courseOutlineCmd.Flags().StringVar(&courseStudents, "students", "", "Target students (required)")
	courseOutlineCmd.Flags().IntVar(&courseChapters, "chapters", 4, "Number of chapters (1-10)")
	courseOutlineCmd.Flags().IntVar(&courseSections, "sections", 4, "Sections per chapter (1-10)")
	_ = courseOutlineCmd.MarkFlagRequired("title")
	_ = courseOutlineCmd.MarkFlagRequired("students")

	courseSectionsCmd.Flags().StringVar(&courseTitle, "title", "", "Course title used for the outline (required)")
	_ = courseSectionsCmd.MarkFlagRequired("title")

	courseListCmd.Flags().IntVarP(&courseLimit, "limit", "l", 20, "Maximum number of courses")

	courseCmd.AddCommand(courseOutlineCmd)
	courseCmd.AddCommand(courseSectionsCmd)
	courseCmd.AddCommand(courseListCmd)
	rootCmd.AddCommand(courseCmd)
}

// courseGenerator builds the generator with console progress. History is
// recorded when the store is available.
func courseGenerator() (*course.Generator, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var rec course.Recorder
	if s, err := getStore(); err == nil {
		rec = s
	} else {
		ui.Warning("Course history disabled: %v", err)
	}
	gen, completer, err := newCourseGenerator(c, rec, course.Config{
		Logf: ui.Logf,
		Progress: func(done, total int, title string) {
			ui.Info("[%d/%d] %s", done, total, title)
		},
	})
	if err != nil {
		return nil, err
	}
	if !completer.Ready() {
		return nil, fmt.Errorf("no LLM API key configured (set llm.api_key or CF_LLM_API_KEY)")
	}
	return gen, nil
}
