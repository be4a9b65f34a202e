package ftp

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storagehx/storage"
	"storagehx/storage/unixvisibility"
)

var parserNow = time.Date(2026, time.October, 17, 8, 0, 0, 0, time.UTC)

func newTestParser() *ListingParser {
	return &ListingParser{
		Converter:  unixvisibility.NewPortableConverter(),
		Timestamps: true,
		Now:        func() time.Time { return parserNow },
	}
}

func TestParseUnixListing(t *testing.T) {
	lines := []string{
		"total 8",
		"drwxr-xr-x 2 u g 4096 Jan 1 2020 sub",
		"-rw-r--r-- 1 u g 12 Jan 2 12:30 file.txt",
	}

	items, err := storage.Collect(newTestParser().Parse(lines, ""))
	require.NoError(t, err)
	require.Len(t, items, 2)

	dir, ok := items[0].(*storage.DirectoryAttributes)
	require.True(t, ok)
	assert.Equal(t, "sub", dir.Path())
	assert.Equal(t, storage.Public, dir.Visibility())

	file, ok := items[1].(*storage.FileAttributes)
	require.True(t, ok)
	assert.Equal(t, "file.txt", file.Path())
	assert.Equal(t, storage.Public, file.Visibility())

	size, _ := file.FileSize()
	assert.Equal(t, int64(12), size)

	modified, ok := file.LastModified()
	require.True(t, ok)
	assert.Equal(t, time.Date(parserNow.Year(), time.January, 2, 12, 30, 0, 0, time.UTC).Unix(), modified)
}

func TestParseUnixListingWithYear(t *testing.T) {
	items, err := storage.Collect(newTestParser().Parse([]string{
		"-rw------- 1 u g 7 Mar 04 2020 secret.txt",
	}, "nested/"))
	require.NoError(t, err)
	require.Len(t, items, 1)

	file := items[0].(*storage.FileAttributes)
	assert.Equal(t, "nested/secret.txt", file.Path())
	assert.Equal(t, storage.Private, file.Visibility())

	modified, _ := file.LastModified()
	assert.Equal(t, time.Date(2020, time.March, 4, 0, 0, 0, 0, time.UTC).Unix(), modified)
}

func TestParseUnixListingWithoutTimestamps(t *testing.T) {
	p := newTestParser()
	p.Timestamps = false

	items, err := storage.Collect(p.Parse([]string{"-rw-r--r-- 1 u g 12 Jan 2 12:30 file.txt"}, ""))
	require.NoError(t, err)

	_, ok := items[0].(*storage.FileAttributes).LastModified()
	assert.False(t, ok)
}

func TestParseUnixNameWithSpaces(t *testing.T) {
	items, err := storage.Collect(newTestParser().Parse([]string{
		"-rw-r--r-- 1 u g 3 Jan 2 12:30 my  report.txt",
	}, ""))
	require.NoError(t, err)
	assert.Equal(t, "my  report.txt", items[0].Path())
}

func TestParseWindowsListing(t *testing.T) {
	p := newTestParser()
	lines := []string{
		"01-01-20  12:00AM       <DIR>          sub",
		"01-02-20  01:30PM             5 file.txt",
	}

	items, err := storage.Collect(p.Parse(lines, ""))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.IsType(t, &storage.DirectoryAttributes{}, items[0])
	assert.Equal(t, "sub", items[0].Path())

	file := items[1].(*storage.FileAttributes)
	assert.Equal(t, "file.txt", file.Path())
	size, _ := file.FileSize()
	assert.Equal(t, int64(5), size)

	modified, ok := file.LastModified()
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, time.January, 2, 13, 30, 0, 0, time.UTC).Unix(), modified)

	assert.Equal(t, SystemWindows, p.detected)
}

func TestParseWindowsFourDigitYear(t *testing.T) {
	items, err := storage.Collect(newTestParser().Parse([]string{
		"2021-06-30  23:59             1 late.log",
	}, ""))
	require.NoError(t, err)

	modified, ok := items[0].(*storage.FileAttributes).LastModified()
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, time.June, 30, 23, 59, 0, 0, time.UTC).Unix(), modified)
}

func TestParseConfiguredSystemTypeWins(t *testing.T) {
	p := newTestParser()
	p.SystemType = SystemUnix

	_, err := storage.Collect(p.Parse([]string{"01-01-20  12:00AM       <DIR>          sub"}, ""))
	assert.ErrorIs(t, err, ErrInvalidListResponse)
}

func TestParseInvalidLine(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"unix", []string{"-rw-r--r-- 1 u g 12 file.txt"}},
		{"windows", []string{"01-02-20  01:30PM"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := storage.Collect(newTestParser().Parse(tt.lines, ""))
			assert.Empty(t, items)
			require.ErrorIs(t, err, ErrInvalidListResponse)

			var listErr *InvalidListResponseError
			require.True(t, errors.As(err, &listErr))
			assert.Equal(t, tt.lines[0], listErr.Line)
		})
	}
}

func TestParseRecursiveHeaders(t *testing.T) {
	p := newTestParser()
	p.Prefixer = storage.NewPathPrefixer("/srv/ftp", "/")

	lines := []string{
		"-rw-r--r-- 1 u g 1 Jan 2 12:30 top.txt",
		"",
		"./sub:",
		"total 1",
		"-rw-r--r-- 1 u g 1 Jan 2 12:30 a.txt",
		"",
		"/srv/ftp/sub/deeper:",
		"-rw-r--r-- 1 u g 1 Jan 2 12:30 b.txt",
	}

	items, err := storage.Collect(p.Parse(lines, ""))
	require.NoError(t, err)

	var paths []string
	for _, item := range items {
		paths = append(paths, item.Path())
	}
	assert.Equal(t, []string{"top.txt", "sub/a.txt", "sub/deeper/b.txt"}, paths)
}

func TestParseStopsWhenConsumerBreaks(t *testing.T) {
	lines := []string{
		"-rw-r--r-- 1 u g 1 Jan 2 12:30 a",
		"-rw-r--r-- 1 u g 1 Jan 2 12:30 b",
		"broken",
	}

	var seen []string
	for item, err := range newTestParser().Parse(lines, "") {
		require.NoError(t, err)
		seen = append(seen, item.Path())
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		permissions string
		expected    fs.FileMode
	}{
		{"-rwxr-xr-x", 0o755},
		{"drwx------", 0o700},
		{"-rw-r--r--", 0o644},
		{"-rwsr-xr-t", 0o755},
		{"-rwSr--r-T", 0o644},
		{"----------", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parsePermissions(tt.permissions), tt.permissions)
	}
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		input    string
		n        int
		expected []string
	}{
		{"a  b   c", 3, []string{"a", "b", "c"}},
		{"  a b c d  e ", 3, []string{"a", "b", "c d  e"}},
		{"a\tb", 4, []string{"a", "b"}},
		{"", 4, []string{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, splitFields(tt.input, tt.n), tt.input)
	}
}
