package archive

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxMetadataSize bounds the embedded metadata record.
const maxMetadataSize = 1 << 20

// Unpack reads an archive from r and restores every packed output to
// its destination path. dests maps property names to destination paths
// and must cover every declared output.
//
// Restoration is all-or-nothing: outputs are staged next to their
// destinations and only moved into place once the whole archive has
// been read and verified. On failure no destination is touched and all
// staged data is removed.
//
// Container-level failures (bad gzip magic, torn tar stream, entries
// that contradict the metadata record) return *CorruptArchiveError; a
// readable container whose metadata record cannot be parsed returns
// *CorruptMetadataError.
func Unpack(ctx context.Context, r io.Reader, dests map[string]string) ([]Output, Metadata, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, Metadata{}, &CorruptArchiveError{Err: err}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	meta, err := readMetadataEntry(tr)
	if err != nil {
		return nil, Metadata{}, err
	}

	infos := make(map[string]OutputInfo, len(meta.Outputs))
	for _, info := range meta.Outputs {
		infos[info.Name] = info
		if info.Kind == KindAbsent {
			continue
		}
		if _, ok := dests[info.Name]; !ok {
			return nil, Metadata{}, fmt.Errorf("no destination for output %q", info.Name)
		}
	}

	u := &unpacker{dests: dests, infos: infos,
		staging: make(map[string]string), seen: make(map[string]bool)}
	defer u.cleanup()

	for {
		if err := ctx.Err(); err != nil {
			return nil, Metadata{}, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Metadata{}, &CorruptArchiveError{Err: err}
		}
		if err := u.stageEntry(hdr, tr); err != nil {
			return nil, Metadata{}, err
		}
	}

	// Drain the gzip trailer so a corrupted checksum is detected.
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return nil, Metadata{}, &CorruptArchiveError{Err: err}
	}

	for _, info := range meta.Outputs {
		if info.Kind != KindAbsent && !u.seen[info.Name] {
			return nil, Metadata{}, &CorruptArchiveError{Err: fmt.Errorf("output %q missing from archive", info.Name)}
		}
	}

	outputs, err := u.finalize(meta.Outputs)
	if err != nil {
		return nil, Metadata{}, err
	}
	return outputs, meta, nil
}

// ReadMetadata decodes just the origin metadata record from an archive,
// without restoring any outputs. It shares Unpack's error taxonomy.
func ReadMetadata(r io.Reader) (Metadata, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Metadata{}, &CorruptArchiveError{Err: err}
	}
	defer gz.Close()

	return readMetadataEntry(tar.NewReader(gz))
}

// readMetadataEntry reads and validates the record, which must be the
// first entry of the tar stream.
func readMetadataEntry(tr *tar.Reader) (Metadata, error) {
	hdr, err := tr.Next()
	if err != nil {
		return Metadata{}, &CorruptArchiveError{Err: fmt.Errorf("read first entry: %w", err)}
	}
	if hdr.Name != MetadataName {
		return Metadata{}, &CorruptArchiveError{Err: fmt.Errorf("first entry is %q, want metadata record", hdr.Name)}
	}
	if hdr.Size > maxMetadataSize {
		return Metadata{}, &CorruptMetadataError{Err: fmt.Errorf("record size %d exceeds limit", hdr.Size)}
	}

	raw, err := io.ReadAll(io.LimitReader(tr, maxMetadataSize))
	if err != nil {
		return Metadata{}, &CorruptArchiveError{Err: fmt.Errorf("read metadata record: %w", err)}
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, &CorruptMetadataError{Err: err}
	}
	if err := meta.validate(); err != nil {
		return Metadata{}, &CorruptMetadataError{Err: err}
	}
	return meta, nil
}

// unpacker accumulates staged outputs while the archive is read.
type unpacker struct {
	dests   map[string]string
	infos   map[string]OutputInfo
	staging map[string]string
	seen    map[string]bool
}

// stageEntry writes one tar entry into its output's staging area.
func (u *unpacker) stageEntry(hdr *tar.Header, tr *tar.Reader) error {
	name := strings.TrimSuffix(hdr.Name, "/")
	if !fs.ValidPath(name) {
		return &CorruptArchiveError{Err: fmt.Errorf("invalid entry path %q", hdr.Name)}
	}
	property, rel, _ := strings.Cut(name, "/")
	if property == path.Dir(MetadataName) {
		return &CorruptArchiveError{Err: fmt.Errorf("unexpected entry %q after metadata record", hdr.Name)}
	}

	info, ok := u.infos[property]
	if !ok {
		return &CorruptArchiveError{Err: fmt.Errorf("entry %q not declared in metadata record", hdr.Name)}
	}
	u.seen[property] = true

	stage, err := u.stagingFor(property)
	if err != nil {
		return err
	}

	switch info.Kind {
	case KindFile:
		if rel != "" || hdr.Typeflag != tar.TypeReg {
			return &CorruptArchiveError{Err: fmt.Errorf("entry %q contradicts file output %q", hdr.Name, property)}
		}
		return u.stageFile(filepath.Join(stage, "data"), hdr, tr)
	case KindDir:
		target := filepath.Join(stage, "data", filepath.FromSlash(rel))
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return u.stageFile(target, hdr, tr)
		default:
			return &CorruptArchiveError{Err: fmt.Errorf("entry %q has unsupported type %q", hdr.Name, hdr.Typeflag)}
		}
	default:
		return &CorruptArchiveError{Err: fmt.Errorf("entry %q belongs to absent output %q", hdr.Name, property)}
	}
}

// stageFile writes one regular entry's content to target, failing on
// short or corrupted content.
func (u *unpacker) stageFile(target string, hdr *tar.Header, tr *tar.Reader) error {
	mode := fs.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	written, copyErr := io.Copy(f, tr)
	closeErr := f.Close()
	if copyErr != nil {
		return &CorruptArchiveError{Err: fmt.Errorf("read entry content: %w", copyErr)}
	}
	if closeErr != nil {
		return closeErr
	}
	if written != hdr.Size {
		return &CorruptArchiveError{Err: fmt.Errorf("entry content truncated at %d of %d bytes", written, hdr.Size)}
	}
	return nil
}

// stagingFor returns the staging directory for a property, creating it
// next to the destination on first use.
func (u *unpacker) stagingFor(property string) (string, error) {
	if dir, ok := u.staging[property]; ok {
		return dir, nil
	}
	dest := u.dests[property]
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(filepath.Dir(dest), ".stash-unpack-*")
	if err != nil {
		return "", err
	}
	u.staging[property] = dir
	return dir, nil
}

// finalize moves every staged output into place. Destinations are
// replaced wholesale; entries are immutable so any complete restore of
// the same key is equivalent.
func (u *unpacker) finalize(infos []OutputInfo) ([]Output, error) {
	outputs := make([]Output, 0, len(infos))
	for _, info := range infos {
		dest := u.dests[info.Name]
		if info.Kind == KindAbsent {
			outputs = append(outputs, Output{Name: info.Name, Path: dest, Kind: KindAbsent})
			continue
		}
		staged := filepath.Join(u.staging[info.Name], "data")
		if err := os.RemoveAll(dest); err != nil {
			return nil, fmt.Errorf("replace output %q: %w", info.Name, err)
		}
		if err := os.Rename(staged, dest); err != nil {
			return nil, fmt.Errorf("restore output %q: %w", info.Name, err)
		}
		outputs = append(outputs, Output{Name: info.Name, Path: dest, Kind: info.Kind})
	}
	return outputs, nil
}

// cleanup removes any staging directories that were not moved into place.
func (u *unpacker) cleanup() {
	for _, dir := range u.staging {
		_ = os.RemoveAll(dir)
	}
}
