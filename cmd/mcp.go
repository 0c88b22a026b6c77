package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client generate courses and read deploy history.
Configure it with:

  {
    "mcpServers": {
      "cf": { "command": "cf", "args": ["mcp"] }
    }
  }

Available tools: cf_generate_outline, cf_generate_sections, cf_list_courses,
cf_list_runs, cf_list_machines`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		// stdout carries the protocol, so generation progress goes nowhere.
		gen, completer, err := newCourseGenerator(c, s, course.Config{})
		if err != nil {
			return err
		}
		var courses course.Service = gen
		if !completer.Ready() {
			courses = nil
		}
		return mcp.NewServer(courses, s, c, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
