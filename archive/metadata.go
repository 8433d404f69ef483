package archive

import (
	"encoding/json"
	"fmt"
	"time"
)

// FormatVersion is the archive format version written into new archives.
const FormatVersion = 1

// MetadataName is the tar entry name of the origin metadata record.
// It is always the first entry in an archive.
const MetadataName = ".stash/metadata.json"

// Kind identifies the on-disk shape of an output.
type Kind int

const (
	// KindAbsent marks an output that was missing at pack time.
	KindAbsent Kind = iota

	// KindFile marks an output that is a single regular file.
	KindFile

	// KindDir marks an output that is a directory tree.
	KindDir
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind as its string name.
func (k Kind) MarshalJSON() ([]byte, error) {
	switch k {
	case KindAbsent, KindFile, KindDir:
		return json.Marshal(k.String())
	default:
		return nil, fmt.Errorf("invalid output kind %d", int(k))
	}
}

// UnmarshalJSON decodes a kind from its string name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "absent":
		*k = KindAbsent
	case "file":
		*k = KindFile
	case "directory":
		*k = KindDir
	default:
		return fmt.Errorf("invalid output kind %q", s)
	}
	return nil
}

// Output declares a named output of a unit of work.
//
// Name is the stable property name, unique within one unit of work.
// Path is where the output lives on disk. Kind is the declared shape;
// only KindFile and KindDir are valid declarations, KindAbsent is
// recorded by the codec when a declared output is missing at pack time.
type Output struct {
	Name string
	Path string
	Kind Kind
}

// OutputInfo records the packed shape of one output inside the
// metadata record.
type OutputInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Metadata is the origin record embedded in every archive. It
// describes the invocation that produced the packed outputs.
//
// Every valid archive contains exactly one well-formed record; an
// archive whose record is missing or unreadable is invalid as a whole,
// even if the output bytes are intact.
type Metadata struct {
	// Task identifies the unit of work that produced the archive.
	Task string `json:"task"`

	// Duration is how long the producing execution took.
	Duration time.Duration `json:"duration_ns"`

	// Version is the archive format version.
	Version int `json:"version"`

	// Outputs lists the packed outputs in pack order.
	Outputs []OutputInfo `json:"outputs"`
}

// validate checks structural well-formedness of a decoded record.
func (m *Metadata) validate() error {
	if m.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %d", m.Version)
	}
	if m.Task == "" {
		return fmt.Errorf("missing task identity")
	}
	seen := make(map[string]struct{}, len(m.Outputs))
	for _, out := range m.Outputs {
		if out.Name == "" {
			return fmt.Errorf("output with empty name")
		}
		if _, ok := seen[out.Name]; ok {
			return fmt.Errorf("duplicate output %q", out.Name)
		}
		seen[out.Name] = struct{}{}
	}
	return nil
}
