package storage

import (
	"errors"
	"fmt"
)

// Visibility is the abstract access level of a file or directory.
// The zero value means the visibility is unknown.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ErrInvalidVisibility is returned when a visibility other than public or
// private is supplied.
var ErrInvalidVisibility = errors.New("invalid visibility")

func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

func (v Visibility) String() string {
	return string(v)
}

// ParseVisibility converts s into a Visibility, rejecting unknown values.
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, s)
	}
	return v, nil
}
