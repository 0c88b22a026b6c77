package models

import "time"

// Stage names one gated step of the deploy pipeline.
type Stage string

const (
	// StageConnect is recorded only when the session cannot be opened.
	StageConnect        Stage = "connect"
	StageClean          Stage = "clean"
	StageSync           Stage = "sync"
	StageDependencies   Stage = "dependencies"
	StageEnvironment    Stage = "environment"
	StageBuild          Stage = "build"
	StageVerifyArtifact Stage = "verify-artifact"
	StageLocalBuild     Stage = "local-build"
)

// RemoteStages is the fixed order of the remote pipeline.
var RemoteStages = []Stage{
	StageClean,
	StageSync,
	StageDependencies,
	StageEnvironment,
	StageBuild,
	StageVerifyArtifact,
}

// Target selects which platforms a run packages.
type Target string

const (
	TargetWindows Target = "windows"
	TargetMac     Target = "mac"
	TargetBoth    Target = "both"
)

// Valid reports whether t is a known target.
func (t Target) Valid() bool {
	switch t {
	case TargetWindows, TargetMac, TargetBoth:
		return true
	}
	return false
}

// Remote reports whether the target includes the remote Windows pipeline.
func (t Target) Remote() bool { return t == TargetWindows || t == TargetBoth }

// Local reports whether the target includes the local macOS build.
func (t Target) Local() bool { return t == TargetMac || t == TargetBoth }

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage    Stage
	OK       bool
	Message  string
	Duration time.Duration
}

// Run records one pipeline invocation. Runs are history only and are never resumed.
type Run struct {
	ID          string
	MachineID   string
	MachineName string
	Host        string
	Target      Target
	Status      RunStatus
	FailedStage Stage
	Message     string
	Stages      []StageResult
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Failed reports whether any recorded stage failed.
func (r *Run) Failed() bool {
	for _, s := range r.Stages {
		if !s.OK {
			return true
		}
	}
	return false
}
