package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Metafile is the subset of the esbuild metafile JSON needed to build a graph.
type Metafile struct {
	Inputs map[string]MetafileInput `json:"inputs"`
}

// MetafileInput is an input file of the metafile.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
}

// MetafileImport is an import recorded for an input.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// ErrInvalidMetafile indicates the metafile could not be decoded.
var ErrInvalidMetafile = errors.New("invalid metafile")

// ReferenceKind maps an esbuild import kind onto a reference kind. The second
// result is false for kinds that do not create a module dependency.
func ReferenceKind(importKind string) (Kind, bool) {
	switch importKind {
	case "dynamic-import":
		return Dynamic, true
	case "import-statement", "require-call", "require-resolve", "import-rule", "composes-from", "url-token":
		return Static, true
	default:
		return Static, false
	}
}

// FromMetafile builds a graph from raw esbuild metafile JSON. External imports and
// virtual inputs (namespaced paths such as "(disabled):fs") are skipped.
func FromMetafile(data []byte) (*Graph, error) {
	var meta Metafile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetafile, err)
	}
	return FromInputs(meta.Inputs)
}

// FromInputs builds a graph from decoded metafile inputs.
func FromInputs(inputs map[string]MetafileInput) (*Graph, error) {
	g := New()

	for p, input := range inputs {
		if isVirtual(p) {
			continue
		}
		g.AddModule(p, input.Bytes)
	}

	for _, p := range g.Paths() {
		input, ok := inputs[p]
		if !ok {
			// normalisation changed the key, find the raw entry
			for raw, in := range inputs {
				if Normalize(raw) == p {
					input = in
					break
				}
			}
		}

		for _, imp := range input.Imports {
			if imp.External || isVirtual(imp.Path) {
				continue
			}
			kind, ok := ReferenceKind(imp.Kind)
			if !ok {
				continue
			}
			specifier := imp.Original
			if specifier == "" {
				specifier = imp.Path
			}
			if err := g.AddReference(p, Reference{Path: imp.Path, Specifier: specifier, Kind: kind}); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func isVirtual(p string) bool {
	return strings.HasPrefix(p, "(") || strings.Contains(p, ":") && !isWindowsDrive(p)
}

func isWindowsDrive(p string) bool {
	return len(p) > 2 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}
