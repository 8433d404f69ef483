// Package archive packs named output trees plus an origin metadata
// record into a single compressed artifact, and unpacks such artifacts
// back onto disk.
//
// The container is a gzip-compressed tar stream. The first entry is
// always the metadata record; the remaining entries are the packed
// outputs under their property names. The codec holds no state: an
// archive is a pure transform of an output set plus a metadata record.
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

	"github.com/klauspost/compress/gzip"
)

// Pack writes an archive containing the declared outputs and the
// metadata record to w.
//
// Outputs are packed in declaration order. A declared output that does
// not exist on disk is recorded as absent rather than failing the pack.
// An output whose on-disk shape contradicts its declared kind fails
// with a *PackError naming the property.
//
// Pack writes nothing durable itself; on failure the partial stream
// written to w must be discarded by the caller.
func Pack(ctx context.Context, w io.Writer, outputs []Output, meta Metadata) error {
	if meta.Version == 0 {
		meta.Version = FormatVersion
	}

	infos, err := resolveOutputs(outputs)
	if err != nil {
		return err
	}
	meta.Outputs = infos
	if err := meta.validate(); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	record, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := writeFileEntry(tw, MetadataName, record, 0o644); err != nil {
		return fmt.Errorf("write metadata record: %w", err)
	}

	for i, out := range outputs {
		if infos[i].Kind == KindAbsent {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := packOutput(ctx, tw, out, infos[i].Kind); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// resolveOutputs stats each declared output and returns its packed
// shape, verifying the on-disk shape against the declaration.
func resolveOutputs(outputs []Output) ([]OutputInfo, error) {
	infos := make([]OutputInfo, 0, len(outputs))
	seen := make(map[string]struct{}, len(outputs))
	for _, out := range outputs {
		if out.Name == "" {
			return nil, &PackError{Property: out.Name, Err: errors.New("empty property name")}
		}
		if !fs.ValidPath(out.Name) || out.Name != path.Base(out.Name) {
			return nil, &PackError{Property: out.Name, Err: errors.New("property name is not a valid single path element")}
		}
		if out.Name == path.Dir(MetadataName) {
			return nil, &PackError{Property: out.Name, Err: errors.New("property name is reserved")}
		}
		if _, ok := seen[out.Name]; ok {
			return nil, &PackError{Property: out.Name, Err: errors.New("duplicate property name")}
		}
		seen[out.Name] = struct{}{}

		if out.Kind != KindFile && out.Kind != KindDir {
			return nil, &PackError{Property: out.Name, Err: fmt.Errorf("cannot declare output as %s", out.Kind)}
		}

		info, err := os.Stat(out.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			infos = append(infos, OutputInfo{Name: out.Name, Kind: KindAbsent})
			continue
		case err != nil:
			return nil, &PackError{Property: out.Name, Err: err}
		}

		switch out.Kind {
		case KindFile:
			if info.IsDir() {
				return nil, &PackError{Property: out.Name, Err: errors.New("declared as file but found a directory")}
			}
			if !info.Mode().IsRegular() {
				return nil, &PackError{Property: out.Name, Err: fmt.Errorf("declared as file but found %s", info.Mode().Type())}
			}
		case KindDir:
			if !info.IsDir() {
				return nil, &PackError{Property: out.Name, Err: errors.New("declared as directory but found a file")}
			}
		}
		infos = append(infos, OutputInfo{Name: out.Name, Kind: out.Kind})
	}
	return infos, nil
}

// packOutput writes the entries for a single present output.
func packOutput(ctx context.Context, tw *tar.Writer, out Output, kind Kind) error {
	if kind == KindFile {
		if err := packFile(tw, out.Name, out.Path); err != nil {
			return &PackError{Property: out.Name, Err: err}
		}
		return nil
	}

	root := os.DirFS(out.Path)
	err := fs.WalkDir(root, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := out.Name
		if p != "." {
			name = path.Join(out.Name, p)
		}
		if d.IsDir() {
			return tw.WriteHeader(&tar.Header{
				Name:     name + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			})
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: unsupported file type %s", p, info.Mode().Type())
		}
		return packFile(tw, name, filepath.Join(out.Path, filepath.FromSlash(p)))
	})
	if err != nil {
		return &PackError{Property: out.Name, Err: err}
	}
	return nil
}

// packFile writes one regular file as a tar entry.
func packFile(tw *tar.Writer, name, fsPath string) error {
	f, err := os.Open(fsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", name)
	}

	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	written, err := io.Copy(tw, f)
	if err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("%s: size changed during pack", name)
	}
	return nil
}

// writeFileEntry writes a byte slice as a regular tar entry.
func writeFileEntry(tw *tar.Writer, name string, data []byte, mode int64) error {
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Size:     int64(len(data)),
		Mode:     mode,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
