package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddModule(t *testing.T) {
	g := New()

	m := g.AddModule("./src/index.js", 10)
	assert.Equal(t, "src/index.js", m.Path)
	assert.Equal(t, 10, m.Size)

	again := g.AddModule("src/index.js", 12)
	assert.Same(t, m, again)
	assert.Equal(t, 12, again.Size)
	assert.Equal(t, 1, g.Len())
}

func TestAddReference(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddModule("a.js", 1)
		g.AddModule("b.js", 1)
		g.AddModule("c.js", 1)

		require.NoError(t, g.AddReference("a.js", Reference{Path: "b.js", Specifier: "./b", Kind: Static}))
		require.NoError(t, g.AddReference("a.js", Reference{Path: "c.js", Specifier: "./c", Kind: Dynamic}))
		// duplicate is ignored
		require.NoError(t, g.AddReference("a.js", Reference{Path: "b.js", Specifier: "./b", Kind: Static}))

		assert.Equal(t, []string{"b.js"}, g.StaticReferences("a.js"))
		assert.Equal(t, []string{"c.js"}, g.DynamicReferences("a.js"))
		m, _ := g.Module("a.js")
		assert.Len(t, m.References, 2)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddModule("a.js", 1)

		err := g.AddReference("dne.js", Reference{Path: "a.js"})
		require.ErrorIs(t, err, ErrModuleNotFound)

		err = g.AddReference("a.js", Reference{Path: "dne.js"})
		require.ErrorIs(t, err, ErrModuleNotFound)
		assert.ErrorContains(t, err, "referenced from a.js")
	})
}

func buildGraph(t *testing.T, edges map[string][]string) *Graph {
	t.Helper()
	g := New()
	for from, tos := range edges {
		g.AddModule(from, 1)
		for _, to := range tos {
			g.AddModule(to, 1)
		}
	}
	for from, tos := range edges {
		for _, to := range tos {
			require.NoError(t, g.AddReference(from, Reference{Path: to, Kind: Static}))
		}
	}
	return g
}

func TestStronglyConnected(t *testing.T) {
	t.Run("acyclic graph yields singletons", func(t *testing.T) {
		g := buildGraph(t, map[string][]string{
			"a": {"b", "c"},
			"b": {"c"},
		})
		components := g.StronglyConnected()
		assert.Len(t, components, 3)
		assert.Empty(t, g.Cycles())

		// dependencies come before their referrers
		pos := map[string]int{}
		for i, c := range components {
			pos[c[0]] = i
		}
		assert.Less(t, pos["c"], pos["b"])
		assert.Less(t, pos["b"], pos["a"])
	})

	t.Run("simple cycle", func(t *testing.T) {
		g := buildGraph(t, map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"a"},
			"d": {"a"},
		})
		cycles := g.Cycles()
		require.Len(t, cycles, 1)
		assert.Equal(t, []string{"a", "b", "c"}, cycles[0])
	})

	t.Run("self reference", func(t *testing.T) {
		g := New()
		g.AddModule("a", 1)
		require.NoError(t, g.AddReference("a", Reference{Path: "a", Kind: Static}))
		assert.Equal(t, [][]string{{"a"}}, g.Cycles())
	})

	t.Run("dynamic edges do not form cycles", func(t *testing.T) {
		g := New()
		g.AddModule("a", 1)
		g.AddModule("b", 1)
		require.NoError(t, g.AddReference("a", Reference{Path: "b", Kind: Static}))
		require.NoError(t, g.AddReference("b", Reference{Path: "a", Kind: Dynamic}))
		assert.Empty(t, g.Cycles())
	})

	t.Run("two independent cycles", func(t *testing.T) {
		g := buildGraph(t, map[string][]string{
			"a": {"b"},
			"b": {"a", "x"},
			"x": {"y"},
			"y": {"x"},
		})
		cycles := g.Cycles()
		require.Len(t, cycles, 2)
		assert.Equal(t, []string{"x", "y"}, cycles[0])
		assert.Equal(t, []string{"a", "b"}, cycles[1])
	})
}

func TestAssignIDs(t *testing.T) {
	g := New()
	for i := range 200 {
		g.AddModule(fmt.Sprintf("src/module-%d.js", i), 1)
	}

	require.NoError(t, g.AssignIDs(IDsDeterministic, 2))

	seen := map[string]string{}
	for _, m := range g.Modules() {
		require.GreaterOrEqual(t, len(m.ID), 2)
		prev, dup := seen[m.ID]
		require.False(t, dup, "id %s shared by %s and %s", m.ID, prev, m.Path)
		seen[m.ID] = m.Path
	}
}

func TestAssignIDs_StableAcrossGraphs(t *testing.T) {
	a := New()
	a.AddModule("src/index.js", 1)
	a.AddModule("src/util.js", 1)
	a.AddModule("src/removed.js", 1)
	require.NoError(t, a.AssignIDs(IDsDeterministic, 0))

	b := New()
	b.AddModule("src/index.js", 1)
	b.AddModule("src/util.js", 1)
	require.NoError(t, b.AssignIDs(IDsDeterministic, 0))

	for _, p := range []string{"src/index.js", "src/util.js"} {
		ma, _ := a.Module(p)
		mb, _ := b.Module(p)
		assert.Equal(t, ma.ID, mb.ID, p)
		assert.Len(t, ma.ID, DefaultIDLength)
	}
}

func TestAssignIDs_Named(t *testing.T) {
	g := New()
	g.AddModule("src/index.js", 1)
	require.NoError(t, g.AssignIDs(IDsNamed, 0))
	m, _ := g.Module("src/index.js")
	assert.Equal(t, "src/index.js", m.ID)

	require.Error(t, g.AssignIDs("natural", 0))
}

func TestFromMetafile(t *testing.T) {
	meta := []byte(`{
		"inputs": {
			"src/index.js": {
				"bytes": 120,
				"imports": [
					{"path": "src/a.js", "kind": "import-statement", "original": "@src/a"},
					{"path": "node_modules/react/index.js", "kind": "import-statement", "original": "react"},
					{"path": "src/b.js", "kind": "dynamic-import", "original": "./b"},
					{"path": "src/stylus-demo.styl", "kind": "import-statement", "original": "./stylus-demo.styl"},
					{"path": "fs", "kind": "require-call", "external": true},
					{"path": "(disabled):path", "kind": "require-call"}
				]
			},
			"src/a.js": {"bytes": 30, "imports": [{"path": "src/index.js", "kind": "import-statement", "original": "./index"}]},
			"src/b.js": {"bytes": 20, "imports": []},
			"src/stylus-demo.styl": {"bytes": 0, "imports": []},
			"node_modules/react/index.js": {"bytes": 200, "imports": []},
			"(disabled):path": {"bytes": 0, "imports": []}
		},
		"outputs": {}
	}`)

	g, err := FromMetafile(meta)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"node_modules/react/index.js",
		"src/a.js",
		"src/b.js",
		"src/index.js",
		"src/stylus-demo.styl",
	}, g.Paths())

	assert.Equal(t, []string{"src/a.js", "node_modules/react/index.js", "src/stylus-demo.styl"}, g.StaticReferences("src/index.js"))
	assert.Equal(t, []string{"src/b.js"}, g.DynamicReferences("src/index.js"))

	m, ok := g.Module("src/index.js")
	require.True(t, ok)
	assert.Equal(t, 120, m.Size)
	assert.Equal(t, "@src/a", m.References[0].Specifier)

	assert.Equal(t, [][]string{{"src/a.js", "src/index.js"}}, g.Cycles())
}

func TestFromMetafile_Invalid(t *testing.T) {
	_, err := FromMetafile([]byte(`{"inputs": [`))
	require.ErrorIs(t, err, ErrInvalidMetafile)
}

func TestReferenceKind(t *testing.T) {
	tests := []struct {
		kind string
		want Kind
		ok   bool
	}{
		{kind: "import-statement", want: Static, ok: true},
		{kind: "require-call", want: Static, ok: true},
		{kind: "import-rule", want: Static, ok: true},
		{kind: "url-token", want: Static, ok: true},
		{kind: "dynamic-import", want: Dynamic, ok: true},
		{kind: "entry-point", want: Static, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, ok := ReferenceKind(tt.kind)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
