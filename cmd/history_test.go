package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/courseforge/internal/models"
)

func testCommand() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

func TestMachineListRun_HidesCredentials(t *testing.T) {
	dir := testEnv(t)
	writeConfig(t, dir, machinesYAML)
	buf := captureOutput(t)

	require.NoError(t, machineListRun())
	out := buf.String()
	assert.Contains(t, out, "win-01")
	assert.Contains(t, out, "10.0.0.6:2222")
	assert.Contains(t, out, "$CF_TEST_WIN02")
	assert.NotContains(t, out, "hunter2")
}

func TestMachineListRun_Empty(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)

	require.NoError(t, machineListRun())
	assert.Contains(t, buf.String(), "No machines configured")
}

func TestHistory_ListAndShow(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)
	s, err := getStore()
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(95 * time.Second)
	run := &models.Run{
		MachineID: "1", MachineName: "win-01", Host: "10.0.0.5",
		Target: models.TargetWindows, Status: models.RunStatusFailed,
		FailedStage: models.StageDependencies, Message: "packages still missing: pyqt6",
		StartedAt: started, EndedAt: &ended,
		Stages: []models.StageResult{
			{Stage: models.StageClean, OK: true, Duration: 2 * time.Second},
			{Stage: models.StageSync, OK: true, Duration: 60 * time.Second},
			{Stage: models.StageDependencies, Message: "packages still missing: pyqt6"},
		},
	}
	require.NoError(t, s.CreateRun(context.Background(), run))

	historyLimit = 20
	require.NoError(t, historyListRun(testCommand()))
	assert.Contains(t, buf.String(), run.ID)
	assert.Contains(t, buf.String(), "dependencies")
	assert.Contains(t, buf.String(), "1m35s")

	buf.Reset()
	require.NoError(t, historyShowRun(testCommand(), run.ID))
	assert.Contains(t, buf.String(), "packages still missing: pyqt6")
	assert.Contains(t, buf.String(), "sync")

	require.Error(t, historyShowRun(testCommand(), "missing"))
}

func TestHistory_Empty(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)

	historyLimit = 20
	require.NoError(t, historyListRun(testCommand()))
	assert.Contains(t, buf.String(), "No runs recorded yet")
}

func TestStatusOverview_LastRunPerMachine(t *testing.T) {
	dir := testEnv(t)
	writeConfig(t, dir, machinesYAML)
	buf := captureOutput(t)
	s, err := getStore()
	require.NoError(t, err)

	ended := time.Now().UTC()
	ok := &models.Run{MachineID: "1", MachineName: "win-01", Target: models.TargetWindows, Status: models.RunStatusSucceeded, StartedAt: time.Now().Add(-2 * time.Hour), EndedAt: &ended}
	require.NoError(t, s.CreateRun(context.Background(), ok))

	require.NoError(t, statusOverviewRun(testCommand()))
	out := buf.String()
	assert.Contains(t, out, "No deploy running")
	assert.Contains(t, out, ok.ID)
	assert.Contains(t, out, "2h ago")
	assert.Contains(t, out, "win-02")

	buf.Reset()
	statusFailed = true
	t.Cleanup(func() { statusFailed = false })
	require.NoError(t, statusOverviewRun(testCommand()))
	assert.NotContains(t, buf.String(), ok.ID)
	assert.Contains(t, buf.String(), "win-02", "machines without runs are listed as not succeeded")
}

func TestTimeAgo(t *testing.T) {
	assert.Equal(t, "just now", timeAgo(time.Now()))
	assert.Equal(t, "5m ago", timeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "1d ago", timeAgo(time.Now().Add(-25*time.Hour)))
	assert.Equal(t, "3d ago", timeAgo(time.Now().Add(-73*time.Hour)))
}
