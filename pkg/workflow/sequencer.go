package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/casare-rpa/robot/pkg/types"
)

// Sequencer is a reference Engine that walks the execution chain without
// performing any automation. Nodes succeed instantly; variables pass
// through unchanged. It exists so the agent core can run end to end in
// environments where no automation engine is linked in, and doubles as
// the engine used by integration tests.
type Sequencer struct{}

// NewSequencer creates the pass-through engine
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Execute walks exec_out connections from the start node in order,
// emitting lifecycle events for every node it visits.
func (s *Sequencer) Execute(ctx context.Context, doc *Document, vars map[string]types.Variable, opts RunOptions) (*Result, error) {
	started := time.Now()

	// Index outgoing exec connections
	next := make(map[string][]string)
	for _, conn := range doc.Connections {
		if conn.SourcePort == PortExecOut && conn.TargetPort == PortExecIn {
			next[conn.SourceNode] = append(next[conn.SourceNode], conn.TargetNode)
		}
	}

	var startID string
	for id, node := range doc.Nodes {
		if node.Type == StartNodeType {
			startID = id
			break
		}
	}
	if startID == "" {
		return nil, fmt.Errorf("workflow has no start node")
	}

	executed := 0
	visited := map[string]bool{startID: true}
	queue := append([]string(nil), next[startID]...)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nodeID := queue[0]
		queue = queue[1:]
		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true

		node := doc.Nodes[nodeID]
		if !opts.SkipNodes[nodeID] {
			nodeStart := time.Now()
			ev := NodeEvent{
				NodeID:    nodeID,
				NodeType:  node.Type,
				Variables: vars,
			}
			if opts.Hooks.OnNodeStart != nil {
				opts.Hooks.OnNodeStart(ev)
			}
			ev.Duration = time.Since(nodeStart)
			if opts.Hooks.OnNodeComplete != nil {
				opts.Hooks.OnNodeComplete(ev)
			}
			executed++
		}

		queue = append(queue, next[nodeID]...)
	}

	return &Result{
		Success:       true,
		ExecutedNodes: executed,
		Duration:      time.Since(started),
		Variables:     vars,
	}, nil
}

// Browser reports no browser; the sequencer never opens one
func (s *Sequencer) Browser() BrowserState {
	return BrowserState{}
}
