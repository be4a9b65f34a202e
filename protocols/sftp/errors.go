package sftp

import (
	"storagehx/storage"
)

const backend = "sftp"

const (
	ReasonConnect          = "unable to connect to host"
	ReasonAuthenticate     = "unable to authenticate"
	ReasonHostAuthenticity = "the authenticity of the host can't be established"
	ReasonStale            = "connection could not be validated"
)

func connectionError(o ConnectionOptions, reason string, err error) *storage.ConnectionError {
	return &storage.ConnectionError{
		Backend: backend,
		Host:    o.Host,
		Port:    o.Port,
		Reason:  reason,
		Err:     err,
	}
}
