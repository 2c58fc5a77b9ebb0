package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/casare-rpa/robot/pkg/types"
)

// Well-known execution port names
const (
	PortExecIn  = "exec_in"
	PortExecOut = "exec_out"
)

// StartNodeType identifies workflow entry nodes
const StartNodeType = "StartNode"

// autoStartID is the id of the implicitly inserted entry node
const autoStartID = "__auto_start__"

// Metadata is the document's descriptive block
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Node is one node descriptor. Config is opaque to the agent and passed
// through to the workflow engine untouched.
type Node struct {
	Type     string                     `json:"node_type"`
	Config   map[string]json.RawMessage `json:"config,omitempty"`
	Position []float64                  `json:"position,omitempty"`
}

// Connection wires one node port to another
type Connection struct {
	SourceNode string `json:"source_node"`
	SourcePort string `json:"source_port"`
	TargetNode string `json:"target_node"`
	TargetPort string `json:"target_port"`
}

// Document is a parsed workflow document
type Document struct {
	Metadata    Metadata                   `json:"metadata"`
	Nodes       map[string]Node            `json:"nodes"`
	Connections []Connection               `json:"connections"`
	Variables   map[string]types.Variable  `json:"variables,omitempty"`
	Settings    map[string]json.RawMessage `json:"settings,omitempty"`
}

// Parse decodes and validates a serialized workflow document. Documents
// without a start node get an implicit one wired to every unconnected
// exec_in entry point, matching designer output.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("workflow document has no nodes")
	}

	doc.ensureStartNode()

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks document invariants: every connection references existing
// nodes and at least one start node exists.
func (d *Document) Validate() error {
	for _, conn := range d.Connections {
		if _, ok := d.Nodes[conn.SourceNode]; !ok {
			return fmt.Errorf("connection references unknown source node %q", conn.SourceNode)
		}
		if _, ok := d.Nodes[conn.TargetNode]; !ok {
			return fmt.Errorf("connection references unknown target node %q", conn.TargetNode)
		}
	}

	if !d.hasStartNode() {
		return fmt.Errorf("workflow document has no start node")
	}
	return nil
}

// NodeCount returns the number of nodes, excluding the implicit start
func (d *Document) NodeCount() int {
	n := len(d.Nodes)
	if _, ok := d.Nodes[autoStartID]; ok {
		n--
	}
	return n
}

func (d *Document) hasStartNode() bool {
	for _, node := range d.Nodes {
		if node.Type == StartNodeType {
			return true
		}
	}
	return false
}

// ensureStartNode mirrors the designer: if no StartNode exists, insert a
// hidden one and wire it to every node whose exec_in port is unconnected.
func (d *Document) ensureStartNode() {
	if d.hasStartNode() {
		return
	}

	d.Nodes[autoStartID] = Node{Type: StartNodeType}

	connected := make(map[string]bool)
	for _, conn := range d.Connections {
		if conn.TargetPort == PortExecIn {
			connected[conn.TargetNode] = true
		}
	}

	for id := range d.Nodes {
		if id == autoStartID || connected[id] {
			continue
		}
		d.Connections = append(d.Connections, Connection{
			SourceNode: autoStartID,
			SourcePort: PortExecOut,
			TargetNode: id,
			TargetPort: PortExecIn,
		})
	}
}
