package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/courseforge/internal/api"
	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/output"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing machines, run history and course generation.
By default it listens on port 8730. Use --port to change it.

Generation progress is buffered and can be polled from /api/v1/logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return serveRun(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8730, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

func serveRun(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	logs := output.NewLogBuffer(c.Serve.LogSize)
	gen, completer, err := newCourseGenerator(c, s, course.Config{Logf: logs.Logf})
	if err != nil {
		return err
	}
	var courses course.Service = gen
	if !completer.Ready() {
		ui.Warning("No LLM API key configured; course generation routes are disabled")
		courses = nil
	}

	srv := api.NewServer(s, courses, c, logs)
	addr := fmt.Sprintf(":%d", c.Serve.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	ui.Info("Serving API at http://localhost%s/api/v1", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("server shutdown", "error", err)
	}
	ui.Info("Server stopped")
	return nil
}
