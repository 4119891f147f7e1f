// Package testutil builds model archives for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Entry is one member of a test archive. Names are used verbatim, so
// traversal paths can be expressed.
type Entry struct {
	Name    string
	Body    string
	Dir     bool
	Symlink bool
}

// File returns a regular file entry
func File(name, body string) Entry {
	return Entry{Name: name, Body: body}
}

// Dir returns a directory entry
func Dir(name string) Entry {
	return Entry{Name: name, Dir: true}
}

// BuildZip returns the bytes of a zip archive holding entries in order
func BuildZip(t testing.TB, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		header := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		switch {
		case e.Dir:
			header.SetMode(fs.ModeDir | 0755)
		case e.Symlink:
			header.SetMode(fs.ModeSymlink | 0777)
		default:
			header.SetMode(0644)
		}
		w, err := zw.CreateHeader(header)
		require.NoError(t, err)
		if !e.Dir {
			_, err = w.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ReadTree returns every regular file below root keyed by slash-separated relative path
func ReadTree(t testing.TB, root string) map[string]string {
	t.Helper()

	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	require.NoError(t, err)
	return files
}

// DirEntries returns the names inside dir, or nil if dir does not exist
func DirEntries(t testing.TB, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
