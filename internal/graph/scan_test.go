package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/index.js":           "import {a} from '@src/a'\nimport './theme.styl'\nimport {u} from 'vendor-lib'\nconst b = import('./b')\nconsole.log(a, u, b)\n",
		"src/admin.js":           "import {a} from './a'\nimport {u} from 'vendor-lib'\nconsole.log(a, u)\n",
		"src/a.js":               "export const a = 1\n",
		"src/b.js":               "export default 'b'\n",
		"src/theme.styl":         "body\n  color red\n",
		"node_modules/vendor-lib/package.json": `{"name": "vendor-lib", "main": "index.js"}`,
		"node_modules/vendor-lib/index.js":     "export const u = 'u'\n",
	})

	g, err := Scan(context.Background(), ScanOptions{
		Root:    root,
		Entries: []string{"./src/index.js", "./src/admin.js"},
		Alias:   map[string]string{"@src": "./src"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"node_modules/vendor-lib/index.js",
		"src/a.js",
		"src/admin.js",
		"src/b.js",
		"src/index.js",
		"src/theme.styl",
	}, g.Paths())

	assert.ElementsMatch(t, []string{"src/a.js", "src/theme.styl", "node_modules/vendor-lib/index.js"}, g.StaticReferences("src/index.js"))
	assert.Equal(t, []string{"src/b.js"}, g.DynamicReferences("src/index.js"))
	assert.ElementsMatch(t, []string{"src/a.js", "node_modules/vendor-lib/index.js"}, g.StaticReferences("src/admin.js"))
}

func TestScan_Errors(t *testing.T) {
	t.Run("no entries", func(t *testing.T) {
		_, err := Scan(context.Background(), ScanOptions{Root: t.TempDir()})
		require.ErrorIs(t, err, ErrScanFailed)
	})

	t.Run("missing import", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, map[string]string{
			"src/index.js": "import './missing'\n",
		})
		_, err := Scan(context.Background(), ScanOptions{Root: root, Entries: []string{"src/index.js"}})
		require.ErrorIs(t, err, ErrScanFailed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Scan(ctx, ScanOptions{Root: t.TempDir(), Entries: []string{"src/index.js"}})
		require.ErrorIs(t, err, context.Canceled)
	})
}
