package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
	"metadata": {"name": "invoice-sync"},
	"nodes": {
		"start": {"node_type": "StartNode"},
		"a": {"node_type": "GoToURLNode", "config": {"url": "https://example.com"}},
		"b": {"node_type": "ExtractTextNode"}
	},
	"connections": [
		{"source_node": "start", "source_port": "exec_out", "target_node": "a", "target_port": "exec_in"},
		{"source_node": "a", "source_port": "exec_out", "target_node": "b", "target_port": "exec_in"}
	],
	"variables": {"count": 3, "label": "x"}
}`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "invoice-sync", doc.Metadata.Name)
	assert.Equal(t, 3, doc.NodeCount())
	assert.Len(t, doc.Connections, 2)
	assert.Equal(t, int64(3), doc.Variables["count"].Int)
}

func TestParseRejectsDanglingConnection(t *testing.T) {
	_, err := Parse([]byte(`{
		"nodes": {"start": {"node_type": "StartNode"}},
		"connections": [{"source_node": "start", "source_port": "exec_out", "target_node": "missing", "target_port": "exec_in"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": {}}`))
	require.Error(t, err)
}

func TestAutoStartInsertion(t *testing.T) {
	doc, err := Parse([]byte(`{
		"nodes": {
			"a": {"node_type": "WaitNode"},
			"b": {"node_type": "WaitNode"}
		},
		"connections": [
			{"source_node": "a", "source_port": "exec_out", "target_node": "b", "target_port": "exec_in"}
		]
	}`))
	require.NoError(t, err)

	// Hidden start exists but is not counted
	assert.Equal(t, 2, doc.NodeCount())
	require.Contains(t, doc.Nodes, "__auto_start__")

	// Only the entry point (a) gets wired to the hidden start
	var wired []string
	for _, conn := range doc.Connections {
		if conn.SourceNode == "__auto_start__" {
			wired = append(wired, conn.TargetNode)
		}
	}
	assert.Equal(t, []string{"a"}, wired)
}
