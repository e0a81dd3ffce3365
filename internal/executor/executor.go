package executor

import (
	"context"
	"errors"
)

// Environment names a deployment target for a run.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDebugging  Environment = "debugging"
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

var Environments = []Environment{EnvLocal, EnvDebugging, EnvStaging, EnvProduction}

func (e Environment) Valid() bool {
	for _, v := range Environments {
		if v == e {
			return true
		}
	}
	return false
}

// Kind is the executor family that carries out a run.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// State is the lifecycle state an executor reports for a run.
type State string

const (
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrRunUnknown is returned by Status and Stop when the executor has no
// record of the run.
var ErrRunUnknown = errors.New("executor has no record of run")

type DispatchRequest struct {
	Environment Environment
	BatchID     string
	Source      string
	BooklistRef string
	// Items scopes the run to these item refs. Empty means the whole booklist.
	Items []string
	// CallbackToken authenticates node progress reports for this batch.
	CallbackToken string
}

// Dispatch describes an accepted run.
type Dispatch struct {
	RunID  string `json:"run_id"`
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	Handle string `json:"handle"`
	LogRef string `json:"log_ref"`
}

type NodeStatus struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Status    string `json:"status"`
}

// Tally is the executor's running outcome count for the whole run.
type Tally struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

type ItemResult struct {
	Ref     string `json:"ref"`
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Status is one snapshot of a run as reported by its executor.
type Status struct {
	State          State        `json:"state"`
	Stage          string       `json:"stage"`
	Nodes          []NodeStatus `json:"nodes"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	CurrentItem    string       `json:"current_item"`
	LogTail        []string     `json:"log_tail,omitempty"`
	Error          string       `json:"error,omitempty"`
	Total          int          `json:"total"`
	Tally          Tally        `json:"tally"`
	Items          []ItemResult `json:"items,omitempty"`
}

// Executor runs pipeline work out of process.
type Executor interface {
	Dispatch(ctx context.Context, target string, req DispatchRequest) (Dispatch, error)
	Status(ctx context.Context, runID, handle string) (Status, error)
	Stop(ctx context.Context, runID, handle string) error
}
