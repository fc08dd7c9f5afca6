package download

import (
	"errors"
	"fmt"
)

var (
	// ErrIO means the catalog or the local file system could not be read.
	ErrIO = errors.New("download: i/o failure")

	// ErrIllegalState means an operation was invoked from a state that
	// forbids it.
	ErrIllegalState = errors.New("download: illegal state")

	// ErrInvalidArgument means an entity does not belong to the claimed
	// owner.
	ErrInvalidArgument = errors.New("download: invalid argument")

	// ErrNilArgument means a required collection argument was nil.
	ErrNilArgument = fmt.Errorf("%w: nil collection", ErrInvalidArgument)

	// ErrUnauthorized means no credential session exists, or the data node
	// kept rejecting the authenticated request.
	ErrUnauthorized = errors.New("download: unauthorized")

	// ErrChecksumMismatch means the file was downloaded in full but its
	// digest disagrees with the catalog.
	ErrChecksumMismatch = errors.New("download: checksum mismatch")

	// ErrTransfer is a generic network or size failure.
	ErrTransfer = errors.New("download: transfer failed")

	// ErrInsufficientSpace means the target file system cannot hold the
	// remaining bytes of a file.
	ErrInsufficientSpace = fmt.Errorf("%w: insufficient disk space", ErrTransfer)

	// ErrNoReplica means no replica of a file offers plain HTTP access, or
	// the pinned data node does not host the file.
	ErrNoReplica = fmt.Errorf("%w: no usable replica", ErrIO)

	// ErrNotFound means the registry holds no dataset with the given id.
	ErrNotFound = errors.New("download: dataset not registered")
)
