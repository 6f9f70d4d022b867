package emit

import (
	"encoding/json"

	"github.com/wolfeidau/chunkplan/internal/planner"
)

// ManifestFile is the name of the manifest written next to the chunks.
const ManifestFile = "manifest.json"

type Manifest struct {
	PublicPath string          `json:"publicPath"`
	Chunks     []ManifestChunk `json:"chunks"`
	Pages      []ManifestPage  `json:"pages,omitempty"`
}

type ManifestChunk struct {
	Name         string            `json:"name"`
	Kind         planner.ChunkKind `json:"kind"`
	JS           string            `json:"js"`
	CSS          string            `json:"css,omitempty"`
	Root         string            `json:"root,omitempty"`
	Modules      []string          `json:"modules"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

type ManifestPage struct {
	Filename string   `json:"filename"`
	Scripts  []string `json:"scripts"`
	Styles   []string `json:"styles,omitempty"`
}

// Manifest describes the emitted chunks and pages.
func (b *Bundle) Manifest(pages []Page) (*Manifest, error) {
	m := &Manifest{PublicPath: b.opts.PublicPath}
	for _, a := range b.Artifacts {
		m.Chunks = append(m.Chunks, ManifestChunk{
			Name:         a.Chunk.Name,
			Kind:         a.Chunk.Kind,
			JS:           a.JS,
			CSS:          a.CSS,
			Root:         a.Chunk.Root,
			Modules:      append([]string{}, a.Chunk.Modules...),
			Dependencies: a.Chunk.Dependencies,
		})
	}
	for _, p := range pages {
		data, err := b.PageData(p)
		if err != nil {
			return nil, err
		}
		m.Pages = append(m.Pages, ManifestPage{Filename: p.Filename, Scripts: data.Scripts, Styles: data.Styles})
	}
	return m, nil
}

// Marshal encodes the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
