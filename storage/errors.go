package storage

import (
	"errors"
	"fmt"
	"strconv"
)

// Operation names the adapter call an OperationError belongs to.
type Operation string

const (
	OpWrite            Operation = "write"
	OpRead             Operation = "read"
	OpDelete           Operation = "delete"
	OpDeleteDirectory  Operation = "delete_directory"
	OpCreateDirectory  Operation = "create_directory"
	OpSetVisibility    Operation = "set_visibility"
	OpMove             Operation = "move"
	OpCopy             Operation = "copy"
	OpRetrieveMetadata Operation = "retrieve_metadata"
)

// Attribute names carried by retrieve_metadata errors.
const (
	MetadataFileSize     = "file_size"
	MetadataLastModified = "last_modified"
	MetadataVisibility   = "visibility"
	MetadataMimeType     = "mime_type"
)

// Sentinels matched by errors.Is against an *OperationError of the same op.
var (
	ErrUnableToWrite            = errors.New("unable to write file")
	ErrUnableToRead             = errors.New("unable to read file")
	ErrUnableToDelete           = errors.New("unable to delete file")
	ErrUnableToDeleteDirectory  = errors.New("unable to delete directory")
	ErrUnableToCreateDirectory  = errors.New("unable to create directory")
	ErrUnableToSetVisibility    = errors.New("unable to set visibility")
	ErrUnableToMove             = errors.New("unable to move file")
	ErrUnableToCopy             = errors.New("unable to copy file")
	ErrUnableToRetrieveMetadata = errors.New("unable to retrieve metadata")
	ErrConnection               = errors.New("unable to connect")
)

var sentinels = map[Operation]error{
	OpWrite:            ErrUnableToWrite,
	OpRead:             ErrUnableToRead,
	OpDelete:           ErrUnableToDelete,
	OpDeleteDirectory:  ErrUnableToDeleteDirectory,
	OpCreateDirectory:  ErrUnableToCreateDirectory,
	OpSetVisibility:    ErrUnableToSetVisibility,
	OpMove:             ErrUnableToMove,
	OpCopy:             ErrUnableToCopy,
	OpRetrieveMetadata: ErrUnableToRetrieveMetadata,
}

// OperationError reports that the backend rejected or botched one call.
type OperationError struct {
	Op          Operation
	Path        string
	Destination string // move and copy only
	Metadata    string // retrieve_metadata only
	Reason      string
	Err         error
}

func (e *OperationError) Error() string {
	msg := sentinels[e.Op].Error()
	switch {
	case e.Destination != "":
		msg = fmt.Sprintf("%s from %s to %s", msg, e.Path, e.Destination)
	case e.Metadata != "":
		msg = fmt.Sprintf("%s (%s) for %s", msg, e.Metadata, e.Path)
	default:
		msg = fmt.Sprintf("%s at location %s", msg, e.Path)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	return sentinels[e.Op] == target
}

func Fail(op Operation, path, reason string, err error) *OperationError {
	return &OperationError{Op: op, Path: path, Reason: reason, Err: err}
}

func FailTransfer(op Operation, source, destination string, err error) *OperationError {
	return &OperationError{Op: op, Path: source, Destination: destination, Err: err}
}

func FailMetadata(path, metadata, reason string, err error) *OperationError {
	return &OperationError{Op: OpRetrieveMetadata, Path: path, Metadata: metadata, Reason: reason, Err: err}
}

// ConnectionError reports that a backend session could not be established
// or validated.
type ConnectionError struct {
	Backend string
	Host    string
	Port    int
	Reason  string
	Err     error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Host != "" {
		msg += " (" + e.Host
		if e.Port != 0 {
			msg += ":" + strconv.Itoa(e.Port)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
