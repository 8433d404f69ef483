package archive

import "fmt"

// PackError is returned when a declared output cannot be packed: it is
// unreadable, or its on-disk shape does not match its declaration.
// Property names the offending output.
type PackError struct {
	Property string
	Err      error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("pack output %q: %v", e.Property, e.Err)
}

func (e *PackError) Unwrap() error { return e.Err }

// CorruptArchiveError is returned when the compressed container cannot
// be read: bad gzip magic, torn tar stream, or packed entries that do
// not match the metadata record.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupted archive: %v", e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// CorruptMetadataError is returned when the container opens but the
// embedded origin metadata record cannot be parsed. It is distinct from
// CorruptArchiveError so callers can report the two differently.
type CorruptMetadataError struct {
	Err error
}

func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("corrupted origin metadata: %v", e.Err)
}

func (e *CorruptMetadataError) Unwrap() error { return e.Err }
