package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAttributes(t *testing.T) {
	a := NewFileAttributes("/some/file.txt",
		WithFileSize(42),
		WithLastModified(1700000000),
		WithVisibility(Public),
		WithMimeType("text/plain"),
	)

	assert.Equal(t, "some/file.txt", a.Path())
	assert.Equal(t, TypeFile, a.Type())
	assert.True(t, a.IsFile())
	assert.False(t, a.IsDir())
	assert.Equal(t, Public, a.Visibility())
	assert.Equal(t, "text/plain", a.MimeType())

	size, ok := a.FileSize()
	assert.True(t, ok)
	assert.Equal(t, int64(42), size)

	modified, ok := a.LastModified()
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), modified)
}

func TestFileAttributesUnknownValues(t *testing.T) {
	a := NewFileAttributes("file.txt")

	_, ok := a.FileSize()
	assert.False(t, ok)
	_, ok = a.LastModified()
	assert.False(t, ok)
	assert.Equal(t, Visibility(""), a.Visibility())
}

func TestDirectoryAttributes(t *testing.T) {
	a := NewDirectoryAttributes("/dir", Private)

	assert.Equal(t, "dir", a.Path())
	assert.Equal(t, TypeDirectory, a.Type())
	assert.True(t, a.IsDir())
	assert.False(t, a.IsFile())
	assert.Equal(t, Private, a.Visibility())
}

func TestAttributesJSON(t *testing.T) {
	original := NewFileAttributes("a/b.txt", WithFileSize(0), WithVisibility(Private))

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"file","path":"a/b.txt","visibility":"private","file_size":0}`, string(data))

	decoded, err := UnmarshalAttributes(data)
	require.NoError(t, err)
	require.IsType(t, &FileAttributes{}, decoded)
	assert.Equal(t, original, decoded)
}

func TestAttributesFromMap(t *testing.T) {
	t.Run("file with float numbers", func(t *testing.T) {
		attrs, err := AttributesFromMap(map[string]any{
			"type":          "file",
			"path":          "x.bin",
			"file_size":     float64(10),
			"last_modified": int64(99),
		})
		require.NoError(t, err)

		file := attrs.(*FileAttributes)
		size, _ := file.FileSize()
		modified, _ := file.LastModified()
		assert.Equal(t, int64(10), size)
		assert.Equal(t, int64(99), modified)
	})

	t.Run("directory", func(t *testing.T) {
		attrs, err := AttributesFromMap(map[string]any{"type": "dir", "path": "d", "visibility": "public"})
		require.NoError(t, err)
		assert.Equal(t, NewDirectoryAttributes("d", Public), attrs)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := AttributesFromMap(map[string]any{"type": "link", "path": "l"})
		assert.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		_, err := AttributesFromMap(map[string]any{"type": "file", "path": "f", "file_size": "big"})
		assert.Error(t, err)
	})
}
