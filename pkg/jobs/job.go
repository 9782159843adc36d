package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a job inside one backend.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// States lists every job state in lifecycle order.
var States = []State{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}

// pendingStates are the states migrated by recovery.
var pendingStates = []State{StateWaiting, StateActive, StateDelayed}

// ParseState converts a user supplied state name.
func ParseState(raw string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range States {
		if state == known {
			return state, nil
		}
	}
	return "", jobsError(ErrInvalidArgument, fmt.Sprintf("unknown job state %q", raw))
}

// ProvenanceRecovered marks jobs migrated from the local backend during recovery.
const ProvenanceRecovered = "recovered"

// DefaultMaxAttempts is used when EnqueueOptions.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// Job is a unit of deferred work. Payload is opaque to the queue.
type Job struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Payload     []byte    `json:"payload"`
	MaxAttempts int       `json:"max_attempts"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	RunAt       time.Time `json:"run_at"`
	LastError   string    `json:"last_error,omitempty"`
	State       State     `json:"state,omitempty"`
	Provenance  string    `json:"provenance,omitempty"`
	RecoveredAt time.Time `json:"recovered_at,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// EnqueueOptions controls scheduling and retry budget of a new job.
type EnqueueOptions struct {
	// Delay postpones the first run. Zero makes the job immediately runnable.
	Delay time.Duration
	// MaxAttempts bounds processing attempts; zero selects DefaultMaxAttempts.
	MaxAttempts int
}

func (o EnqueueOptions) validate() error {
	if o.Delay < 0 {
		return jobsError(ErrInvalidArgument, "delay must be >= 0")
	}
	if o.MaxAttempts < 0 {
		return jobsError(ErrInvalidArgument, "max attempts must be >= 1")
	}
	return nil
}

// NewJob builds a job ready to be handed to a backend.
func NewJob(name string, payload []byte, opts EnqueueOptions) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, jobsError(ErrInvalidArgument, "job name is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     cloneBytes(payload),
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		RunAt:       now.Add(opts.Delay),
	}, nil
}

// Validate checks the fields backends rely on.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return jobsError(ErrValidation, "job id is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return jobsError(ErrValidation, "job name is required")
	}
	if j.MaxAttempts < 1 {
		return jobsError(ErrValidation, "job max attempts must be >= 1")
	}
	if j.Attempts < 0 {
		return jobsError(ErrValidation, "job attempts must be >= 0")
	}
	if j.Attempts > j.MaxAttempts {
		return jobsError(ErrValidation, "job attempts cannot exceed max attempts")
	}
	return nil
}

// Recovered reports whether the job was migrated during a recovery.
func (j *Job) Recovered() bool {
	return j != nil && j.Provenance == ProvenanceRecovered
}

// StateCounts holds the number of jobs per state.
type StateCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Pending returns waiting+active+delayed.
func (c StateCounts) Pending() int {
	return c.Waiting + c.Active + c.Delayed
}

// Get returns the count for one state.
func (c StateCounts) Get(state State) int {
	switch state {
	case StateWaiting:
		return c.Waiting
	case StateActive:
		return c.Active
	case StateDelayed:
		return c.Delayed
	case StateCompleted:
		return c.Completed
	case StateFailed:
		return c.Failed
	default:
		return 0
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	copyJob := *job
	copyJob.Payload = cloneBytes(job.Payload)
	return &copyJob
}

func cloneJobs(list []*Job) []*Job {
	out := make([]*Job, 0, len(list))
	for _, job := range list {
		out = append(out, cloneJob(job))
	}
	return out
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}
