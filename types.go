package stash

import "github.com/buildstash/stash/archive"

// --- Re-exports from archive ---

// Output declares a named output of a unit of work.
type Output = archive.Output

// Kind identifies the on-disk shape of an output.
type Kind = archive.Kind

// Metadata is the origin record embedded in every archive.
type Metadata = archive.Metadata

// OutputInfo records the packed shape of one output.
type OutputInfo = archive.OutputInfo

// Kind constants.
const (
	KindAbsent = archive.KindAbsent
	KindFile   = archive.KindFile
	KindDir    = archive.KindDir
)

// FormatVersion is the archive format version written by this package.
const FormatVersion = archive.FormatVersion
