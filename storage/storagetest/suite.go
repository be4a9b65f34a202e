// Package storagetest provides a conformance suite for storage.Adapter
// implementations.
//
// Each backend runs the suite from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) storage.Adapter {
//	        return newAdapter(t)
//	    })
//	}
package storagetest

import (
	"bytes"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storagehx/storage"
)

// Config adapts the suite to documented backend differences.
type Config struct {
	// SkipTests lists subtest names to skip, e.g. "Metadata".
	SkipTests []string
}

// Run executes every conformance test. newAdapter must return an adapter over
// an empty root; it is called once per subtest.
func Run(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	RunWithConfig(t, newAdapter, Config{})
}

func RunWithConfig(t *testing.T, newAdapter func(t *testing.T) storage.Adapter, config Config) {
	tests := []struct {
		name string
		fn   func(t *testing.T, a storage.Adapter)
	}{
		{"WriteAndRead", testWriteAndRead},
		{"WriteStreamAndReadStream", testWriteStreamAndReadStream},
		{"WriteCreatesParents", testWriteCreatesParents},
		{"ReadMissing", testReadMissing},
		{"Delete", testDelete},
		{"DeleteDirectory", testDeleteDirectory},
		{"CreateDirectory", testCreateDirectory},
		{"Visibility", testVisibility},
		{"Metadata", testMetadata},
		{"ListContents", testListContents},
		{"Move", testMove},
		{"Copy", testCopy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if slices.Contains(config.SkipTests, tt.name) {
				t.Skip("Skipped by adapter configuration")
			}
			a := newAdapter(t)
			t.Cleanup(func() { _ = a.Close() })
			tt.fn(t, a)
		})
	}
}

func noConfig() storage.Config {
	return storage.NewConfig(nil)
}

func withVisibility(v storage.Visibility) storage.Config {
	return storage.NewConfig(map[string]any{storage.OptionVisibility: v})
}

func listPaths(t *testing.T, listing storage.Listing) []string {
	t.Helper()

	items, err := storage.Collect(listing)
	require.NoError(t, err)
	storage.SortByPath(items)

	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, item.Path())
	}
	return paths
}

func testWriteAndRead(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("file.txt", []byte("hello world"), noConfig()))

	exists, err := a.FileExists("file.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	contents, err := a.Read("file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(contents))

	require.NoError(t, a.Write("file.txt", []byte("replaced"), noConfig()))
	contents, err = a.Read("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(contents))

	exists, err = a.FileExists("missing.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testWriteStreamAndReadStream(t *testing.T, a storage.Adapter) {
	payload := bytes.Repeat([]byte("0123456789"), 1024)
	require.NoError(t, a.WriteStream("stream.bin", bytes.NewReader(payload), noConfig()))

	stream, err := a.ReadStream("stream.bin")
	require.NoError(t, err)
	defer stream.Close()

	contents, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, payload, contents)
}

func testWriteCreatesParents(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("a/b/c.txt", []byte("nested"), noConfig()))

	assert.Equal(t, []string{"a/b", "a/b/c.txt"}, listPaths(t, a.ListContents("a", true)))
}

func testReadMissing(t *testing.T, a storage.Adapter) {
	_, err := a.Read("missing.txt")
	assert.ErrorIs(t, err, storage.ErrUnableToRead)

	_, err = a.ReadStream("missing.txt")
	assert.ErrorIs(t, err, storage.ErrUnableToRead)
}

func testDelete(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("file.txt", []byte("x"), noConfig()))
	require.NoError(t, a.Delete("file.txt"))

	exists, err := a.FileExists("file.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, a.Delete("file.txt"), "deleting an absent file succeeds")
}

func testDeleteDirectory(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("dir/a.txt", []byte("a"), noConfig()))
	require.NoError(t, a.Write("dir/sub/b.txt", []byte("b"), noConfig()))
	require.NoError(t, a.Write("dir/sub/deeper/c.txt", []byte("c"), noConfig()))
	require.NoError(t, a.Write("keep.txt", []byte("k"), noConfig()))

	require.NoError(t, a.DeleteDirectory("dir"))

	assert.Equal(t, []string{"keep.txt"}, listPaths(t, a.ListContents("", true)))
}

func testCreateDirectory(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.CreateDirectory("new/dir", noConfig()))
	require.NoError(t, a.CreateDirectory("new/dir", noConfig()), "creating an existing directory succeeds")

	items, err := storage.Collect(a.ListContents("", true))
	require.NoError(t, err)
	storage.SortByPath(items)

	require.Len(t, items, 2)
	for i, expected := range []string{"new", "new/dir"} {
		assert.Equal(t, expected, items[i].Path())
		assert.True(t, items[i].IsDir())
	}

	require.NoError(t, a.CreateDirectory("public", withVisibility(storage.Public)))
}

func testVisibility(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("file.txt", []byte("x"), withVisibility(storage.Private)))

	attrs, err := a.Visibility("file.txt")
	require.NoError(t, err)
	assert.Equal(t, storage.Private, attrs.Visibility())

	require.NoError(t, a.SetVisibility("file.txt", storage.Public))
	attrs, err = a.Visibility("file.txt")
	require.NoError(t, err)
	assert.Equal(t, storage.Public, attrs.Visibility())

	err = a.SetVisibility("file.txt", storage.Visibility("shared"))
	assert.ErrorIs(t, err, storage.ErrUnableToSetVisibility)
	assert.ErrorIs(t, err, storage.ErrInvalidVisibility)

	_, err = a.Visibility("missing.txt")
	assert.ErrorIs(t, err, storage.ErrUnableToRetrieveMetadata)
}

func testMetadata(t *testing.T, a storage.Adapter) {
	html := "<!DOCTYPE html><html><body>metadata</body></html>"
	require.NoError(t, a.Write("page.html", []byte(html), noConfig()))

	size, err := a.FileSize("page.html")
	require.NoError(t, err)
	n, ok := size.FileSize()
	require.True(t, ok)
	assert.Equal(t, int64(len(html)), n)

	modified, err := a.LastModified("page.html")
	require.NoError(t, err)
	ts, ok := modified.LastModified()
	require.True(t, ok)
	assert.Positive(t, ts)

	mime, err := a.MimeType("page.html")
	require.NoError(t, err)
	assert.Equal(t, "text/html", mime.MimeType())

	for name, probe := range map[string]func(string) (*storage.FileAttributes, error){
		"file size":     a.FileSize,
		"last modified": a.LastModified,
		"mime type":     a.MimeType,
	} {
		_, err := probe("missing.txt")
		assert.ErrorIs(t, err, storage.ErrUnableToRetrieveMetadata, name)
	}
}

func testListContents(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("a.txt", []byte("a"), noConfig()))
	require.NoError(t, a.Write("dir/b.txt", []byte("bb"), noConfig()))
	require.NoError(t, a.Write("dir/sub/c.txt", []byte("ccc"), noConfig()))

	assert.Equal(t, []string{"a.txt", "dir"}, listPaths(t, a.ListContents("", false)))
	assert.Equal(t, []string{"a.txt", "dir", "dir/b.txt", "dir/sub", "dir/sub/c.txt"}, listPaths(t, a.ListContents("/", true)))
	assert.Equal(t, []string{"dir/b.txt", "dir/sub"}, listPaths(t, a.ListContents("dir/", false)))

	for item, err := range a.ListContents("dir", true) {
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(item.Path(), "dir/"), item.Path())
		if file, ok := item.(*storage.FileAttributes); ok {
			size, known := file.FileSize()
			assert.True(t, known)
			assert.Positive(t, size)
		}
	}

	assert.Empty(t, listPaths(t, a.ListContents("missing", true)))
}

func testMove(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("source.txt", []byte("moved"), noConfig()))
	require.NoError(t, a.Move("source.txt", "target/moved.txt", noConfig()))

	exists, err := a.FileExists("source.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	contents, err := a.Read("target/moved.txt")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(contents))

	err = a.Move("source.txt", "elsewhere.txt", noConfig())
	assert.ErrorIs(t, err, storage.ErrUnableToMove)
}

func testCopy(t *testing.T, a storage.Adapter) {
	require.NoError(t, a.Write("source.txt", []byte("copied"), withVisibility(storage.Private)))
	require.NoError(t, a.Copy("source.txt", "target/copy.txt", noConfig()))

	for _, p := range []string{"source.txt", "target/copy.txt"} {
		contents, err := a.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "copied", string(contents))
	}

	attrs, err := a.Visibility("target/copy.txt")
	require.NoError(t, err)
	assert.Equal(t, storage.Private, attrs.Visibility())

	err = a.Copy("missing.txt", "other.txt", noConfig())
	assert.ErrorIs(t, err, storage.ErrUnableToCopy)
}
