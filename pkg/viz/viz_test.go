package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRevisions(t *testing.T) {
	doc := automerge.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, doc.Path("revision").Counter().Inc(1))
		_, err := doc.Commit("snapshot")
		require.NoError(t, err)
	}

	label := func(d *automerge.Doc) string {
		v, _ := d.Path("revision").Counter().Get()
		if v == 3 {
			return "latest"
		}
		return "older"
	}
	var buff bytes.Buffer
	require.NoError(t, Render(doc, graphviz.SVG, label, &buff))
	assert.Contains(t, buff.String(), "<svg")
	assert.Contains(t, buff.String(), "latest")
	assert.Contains(t, buff.String(), "older")

	out := filepath.Join(t.TempDir(), "graph.svg")
	require.NoError(t, WriteSVG(doc, nil, out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
}
