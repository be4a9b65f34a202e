package ftp

import (
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"storagehx/storage"
	"storagehx/storage/unixvisibility"
)

var (
	selfReference = regexp.MustCompile(`.* \.(\.)?$|^total`)
	windowsDate   = regexp.MustCompile(`^[0-9]{2,4}-[0-9]{2}-[0-9]{2}`)
)

// Windows listings carry either a two or a four digit year.
var windowsLayouts = []string{
	"01-02-0603:04PM",
	"2006-01-0215:04",
}

// Tried on "date time" when the strict layouts fail.
var windowsFallbackLayouts = []string{
	"01-02-06 03:04PM",
	"01-02-2006 03:04PM",
	"2006-01-02 15:04",
	"01-02-06 15:04",
	"2006-01-02 03:04PM",
}

// ListingParser turns raw LIST -aln output into attributes. A parser is
// owned by one adapter: the detected dialect is remembered across listings.
type ListingParser struct {
	Converter unixvisibility.Converter
	// Prefixer maps absolute headers of recursive listings back to logical
	// paths. The zero value leaves headers untouched.
	Prefixer   storage.PathPrefixer
	SystemType SystemType
	Timestamps bool
	Now        func() time.Time

	detected SystemType
}

// Parse yields the entries of lines in order. base is the logical directory
// that was listed. A malformed line ends the listing with an
// *InvalidListResponseError.
func (p *ListingParser) Parse(lines []string, base string) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		current := base
		for _, line := range lines {
			if line == "" || selfReference.MatchString(line) {
				continue
			}
			if strings.HasSuffix(line, ":") {
				current = p.header(line)
				continue
			}

			item, err := p.parseLine(line, current)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (p *ListingParser) header(line string) string {
	base := strings.TrimSuffix(line, ":")
	if strings.HasPrefix(base, ".") {
		base = strings.TrimLeft(base[1:], "/")
	}

	if prefix := p.Prefixer.Prefix(); prefix != "" && strings.HasPrefix(base+"/", prefix) {
		base = strings.TrimSuffix(p.Prefixer.StripPrefix(base+"/"), "/")
	}
	return base
}

func (p *ListingParser) parseLine(line, base string) (storage.StorageAttributes, error) {
	if p.systemType(line) == SystemWindows {
		return p.parseWindowsLine(line, base)
	}
	return p.parseUnixLine(line, base)
}

func (p *ListingParser) systemType(line string) SystemType {
	if p.SystemType != SystemAuto {
		return p.SystemType
	}
	if p.detected == SystemAuto {
		p.detected = SystemUnix
		if windowsDate.MatchString(line) {
			p.detected = SystemWindows
		}
	}
	return p.detected
}

func (p *ListingParser) parseWindowsLine(line, base string) (storage.StorageAttributes, error) {
	fields := splitFields(line, 4)
	if len(fields) != 4 {
		return nil, &InvalidListResponseError{Line: line}
	}

	date, clock, size, name := fields[0], fields[1], fields[2], fields[3]
	itemPath := joinListingPath(base, name)

	if size == "<DIR>" {
		return storage.NewDirectoryAttributes(itemPath, ""), nil
	}

	opts := []storage.FileOption{storage.WithFileSize(parseSize(size))}
	if modified, ok := parseWindowsTime(date, clock); ok {
		opts = append(opts, storage.WithLastModified(modified.Unix()))
	}
	return storage.NewFileAttributes(itemPath, opts...), nil
}

func parseWindowsTime(date, clock string) (time.Time, bool) {
	layout := windowsLayouts[1]
	if len(date) == 8 {
		layout = windowsLayouts[0]
	}
	if t, err := time.Parse(layout, strings.ToUpper(date+clock)); err == nil {
		return t, true
	}

	for _, layout := range windowsFallbackLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(date+" "+clock)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *ListingParser) parseUnixLine(line, base string) (storage.StorageAttributes, error) {
	fields := splitFields(line, 9)
	if len(fields) != 9 {
		return nil, &InvalidListResponseError{Line: line}
	}

	permissions, size, month, day, timeOrYear, name := fields[0], fields[4], fields[5], fields[6], fields[7], fields[8]
	itemPath := joinListingPath(base, name)
	mode := parsePermissions(permissions)

	if strings.HasPrefix(permissions, "d") {
		return storage.NewDirectoryAttributes(itemPath, p.Converter.InverseForDirectory(mode)), nil
	}

	opts := []storage.FileOption{
		storage.WithFileSize(parseSize(size)),
		storage.WithVisibility(p.Converter.InverseForFile(mode)),
	}
	if p.Timestamps {
		if modified, ok := p.unixTime(month, day, timeOrYear); ok {
			opts = append(opts, storage.WithLastModified(modified.Unix()))
		}
	}
	return storage.NewFileAttributes(itemPath, opts...), nil
}

// unixTime assumes the current year when the listing shows a time of day,
// which is what ls does for entries younger than six months.
func (p *ListingParser) unixTime(month, day, timeOrYear string) (time.Time, bool) {
	year, hour, minute := 0, 0, 0

	if n, err := strconv.Atoi(timeOrYear); err == nil {
		year = n
	} else {
		h, m, ok := strings.Cut(timeOrYear, ":")
		if !ok {
			return time.Time{}, false
		}
		var errH, errM error
		hour, errH = strconv.Atoi(h)
		minute, errM = strconv.Atoi(m)
		if errH != nil || errM != nil {
			return time.Time{}, false
		}
		year = p.now().Year()
	}

	parsedMonth, err := time.Parse("Jan", month)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(year, parsedMonth.Month(), d, hour, minute, 0, 0, time.UTC), true
}

func (p *ListingParser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// parsePermissions sums each rwx triplet of an ls permission string into
// one octal digit. The leading type character is ignored.
func parsePermissions(permissions string) fs.FileMode {
	if len(permissions) > 0 {
		permissions = permissions[1:]
	}

	var mode fs.FileMode
	for group := 0; group < 3; group++ {
		var digit fs.FileMode
		for i := group * 3; i < group*3+3 && i < len(permissions); i++ {
			switch permissions[i] {
			case 'r':
				digit += 4
			case 'w':
				digit += 2
			case 'x', 's', 't':
				digit++
			}
		}
		mode = mode<<3 | digit
	}
	return mode
}

func parseSize(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func joinListingPath(base, name string) string {
	if base == "" {
		return name
	}
	return strings.TrimRight(base, "/") + "/" + name
}

// splitFields splits s on runs of whitespace into at most n fields. The last
// field keeps the remainder verbatim, so names containing spaces survive.
func splitFields(s string, n int) []string {
	s = strings.TrimSpace(s)
	fields := make([]string, 0, n)

	for len(fields) < n-1 && s != "" {
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			break
		}
		fields = append(fields, s[:end])
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	if s != "" {
		fields = append(fields, s)
	}
	return fields
}
