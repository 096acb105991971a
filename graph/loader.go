package graph

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// internal file shapes, unexported so they can evolve independently of
// Description.
type graphJSON struct {
	Nodes []NodeSpec `json:"nodes"`
	Edges []EdgeSpec `json:"edges"`
}

type graphXML struct {
	XMLName xml.Name   `xml:"graph"`
	Nodes   []NodeSpec `xml:"nodes>node"`
	Edges   []EdgeSpec `xml:"edges>edge"`
}

// LoadJSON decodes a graph description of the form
// {"nodes":[{"id","x","y","type"}],"edges":[{"from","to"}]}.
func LoadJSON(r io.Reader) (Description, error) {
	var payload graphJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Description{}, fmt.Errorf("LoadJSON: decode failed: %w", err)
	}
	return Description{Nodes: payload.Nodes, Edges: payload.Edges}, nil
}

// LoadXML decodes a <graph><nodes><node id x y/>...</nodes><edges><edge
// from to/>...</edges></graph> document.
func LoadXML(r io.Reader) (Description, error) {
	var payload graphXML
	if err := xml.NewDecoder(r).Decode(&payload); err != nil {
		return Description{}, fmt.Errorf("LoadXML: decode failed: %w", err)
	}
	return Description{Nodes: payload.Nodes, Edges: payload.Edges}, nil
}

// LoadFile reads a description from disk, choosing the decoder from the
// file extension (.xml or .json).
func LoadFile(path string) (Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return Description{}, fmt.Errorf("LoadFile: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return LoadXML(f)
	case ".json":
		return LoadJSON(f)
	default:
		return Description{}, fmt.Errorf("LoadFile: unsupported graph format %q", filepath.Ext(path))
	}
}
