package stash

import (
	"errors"
	"fmt"

	"github.com/buildstash/stash/archive"
	"github.com/buildstash/stash/store"
)

// Source identifies which tier produced a cache result or failure.
type Source string

const (
	// SourceLocal marks results served from the local directory tier.
	SourceLocal Source = "local"

	// SourceRemote marks results served from the remote tier.
	SourceRemote Source = "remote"

	// SourceExecuted marks results produced by running the task.
	SourceExecuted Source = "executed"
)

// Errors re-exported from archive.
type (
	// PackError reports a declared output that could not be packed,
	// naming the offending property.
	PackError = archive.PackError

	// CorruptArchiveError reports an unreadable compressed container.
	CorruptArchiveError = archive.CorruptArchiveError

	// CorruptMetadataError reports a readable container whose origin
	// metadata record cannot be parsed.
	CorruptMetadataError = archive.CorruptMetadataError
)

// ErrNotExist is the store miss sentinel, re-exported for callers that
// work with backends directly.
var ErrNotExist = store.ErrNotExist

// DecodeError reports a cache entry that failed validation during
// decode, carrying the key and the tier it came from. The routing of a
// decode failure depends on the source: local entries are quarantined
// and the run recovers by executing; remote entries fail the run.
type DecodeError struct {
	Key    Key
	Source Source
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s cache entry for %s is invalid: %v", e.Source, e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// isCorrupt reports whether err is a decode-time corruption, as opposed
// to an I/O failure while restoring outputs.
func isCorrupt(err error) bool {
	var archiveErr *archive.CorruptArchiveError
	var metaErr *archive.CorruptMetadataError
	return errors.As(err, &archiveErr) || errors.As(err, &metaErr)
}
