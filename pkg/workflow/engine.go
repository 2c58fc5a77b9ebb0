package workflow

import (
	"context"
	"time"

	"github.com/casare-rpa/robot/pkg/types"
)

// NodeEvent is one lifecycle event emitted by the engine while a workflow
// runs. Events for a single run are totally ordered.
type NodeEvent struct {
	NodeID   string
	NodeType string
	NodeName string
	Duration time.Duration
	Err      error

	// Variables is the engine's serializable variable snapshot at the
	// time of the event. Present on completion events; checkpointing
	// reads it.
	Variables map[string]types.Variable
}

// Hooks receives node lifecycle events during a run. Implementations must
// be fast; the engine invokes them inline between nodes.
type Hooks struct {
	OnNodeStart    func(ev NodeEvent)
	OnNodeComplete func(ev NodeEvent)
	OnNodeFailed   func(ev NodeEvent)
}

// BrowserState is the diagnostic browser snapshot exposed by the engine.
// It is informational only: a resumed run never restores a live browser,
// so browser-dependent nodes must tolerate a cold start after resume.
type BrowserState struct {
	HasBrowser bool
	ActivePage string
	PageCount  int
}

// RunOptions tunes one engine invocation
type RunOptions struct {
	// SkipNodes are already-executed node ids the engine must skip,
	// seeded from a restored checkpoint.
	SkipNodes map[string]bool

	// NodeTimeout caps a single node's execution
	NodeTimeout time.Duration

	Hooks Hooks
}

// Result is the terminal outcome of one engine run
type Result struct {
	Success       bool
	Error         string
	ExecutedNodes int
	Duration      time.Duration
	Variables     map[string]types.Variable

	// Recovered marks a run that resumed from a checkpoint
	Recovered bool
}

// Engine runs a workflow document to completion. The agent treats the
// engine as a black box: it feeds a document plus initial variables and
// consumes node lifecycle events and a terminal result.
//
// Implementations must honor ctx cancellation promptly — the executor
// cancels the context on job cancellation and shutdown.
type Engine interface {
	Execute(ctx context.Context, doc *Document, vars map[string]types.Variable, opts RunOptions) (*Result, error)

	// Browser returns the current diagnostic browser snapshot for the
	// running workflow, if any.
	Browser() BrowserState
}
