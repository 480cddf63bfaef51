// Package agent coordinates the full pipeline: understand the request,
// resolve datasets, create a workspace, generate per-step code, and
// persist the notebook. One agent instance serves one chat session;
// starting a new run does not cancel a previous one.
package agent

import (
	"time"

	"genebench/internal/codegen"
	"genebench/internal/dataset"
	"genebench/internal/plan"
)

// Status is a step's lifecycle state. Transitions are monotonic: a step
// never regresses to an earlier state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Phase is the run state machine's position.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseUnderstanding     Phase = "understanding"
	PhaseResolvingData     Phase = "resolving_data"
	PhaseCreatingWorkspace Phase = "creating_workspace"
	PhasePlanningSteps     Phase = "planning_steps"
	PhaseGeneratingCode    Phase = "generating_code"
	PhaseDone              Phase = "done"
	PhaseCancelled         Phase = "cancelled"
)

// Step is one unit of generated analysis code.
type Step struct {
	ID          string
	Description string
	Code        string
	Status      Status
	Source      codegen.CodeSource
	Output      string
}

// Result is the aggregate of one pipeline run, owned by the agent
// instance that produced it.
type Result struct {
	RunID            string
	Request          string
	Understanding    *plan.Understanding
	Datasets         []dataset.Ref
	Steps            []*Step
	WorkingDirectory string
	Cancelled        bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// StatusEvent reports pipeline progress to the UI layer.
type StatusEvent struct {
	Status  string
	Message string
	Package string
}

// StepEvent announces the start of one step's code generation.
type StepEvent struct {
	StepID          string
	StepDescription string
}

// Callbacks are the UI hooks. Either may be nil.
type Callbacks struct {
	OnStatus    func(StatusEvent)
	OnStepStart func(StepEvent)
}

func (c Callbacks) status(status, message string) {
	if c.OnStatus != nil {
		c.OnStatus(StatusEvent{Status: status, Message: message})
	}
}

func (c Callbacks) stepStart(id, description string) {
	if c.OnStepStart != nil {
		c.OnStepStart(StepEvent{StepID: id, StepDescription: description})
	}
}
