// Package viz draws the change graph of an automerge document with graphviz.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// LabelFunc summarises the document as it was at one change.
type LabelFunc func(docAt *automerge.Doc) string

// Render writes the change graph of doc in the given format (graphviz.SVG, graphviz.XDOT,
// ...). Each node is one change, labelled with its short hash, actor sequence and label(doc
// at that change); edges point from a dependency to the change that follows it.
func Render(doc *automerge.Doc, format graphviz.Format, label LabelFunc, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	edges := 0
	for _, change := range changes {
		hash := change.Hash().String()
		text := fmt.Sprintf("%s @%d", hash[:8], change.ActorSeq())
		if label != nil {
			docAt, err := doc.Fork(change.Hash())
			if err != nil {
				return fmt.Errorf("failed to checkout %s: %w", hash, err)
			}
			text += " " + label(docAt)
		}

		n, err := graph.CreateNode(hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(text)
		nodeMap[hash] = n

		for _, dep := range change.Dependencies() {
			parent, ok := nodeMap[dep.String()]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, format, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := w.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// WriteSVG renders doc as SVG into outputPath.
func WriteSVG(doc *automerge.Doc, label LabelFunc, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer f.Close()
	if err := Render(doc, graphviz.SVG, label, f); err != nil {
		return err
	}
	return f.Close()
}
