// Package tarcodec packs and unpacks single files into in-memory POSIX ustar
// archives for transfer through a container runtime's CopyToContainer /
// CopyFromContainer API.
package tarcodec

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Pack returns a ustar archive containing a single regular file at p with the
// given contents. p is archived relative (leading slashes stripped) the way
// Docker's CopyToContainer expects entries relative to the destination dir.
func Pack(p string, contents []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	name := strings.TrimPrefix(p, "/")
	if name == "" {
		return nil, fmt.Errorf("tarcodec: empty path")
	}

	if err := ensureDirs(w, name); err != nil {
		return nil, err
	}

	hdr := &tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     int64(len(contents)),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
	}
	if err := w.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("tarcodec: write header: %w", err)
	}
	if _, err := w.Write(contents); err != nil {
		return nil, fmt.Errorf("tarcodec: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("tarcodec: close: %w", err)
	}
	return buf.Bytes(), nil
}

// ensureDirs writes directory entries for every parent of name, so that
// extraction onto an empty destination succeeds without relying on the
// runtime auto-creating intermediate directories.
func ensureDirs(w *tar.Writer, name string) error {
	dir := path.Dir(name)
	if dir == "." || dir == "/" {
		return nil
	}
	var parts []string
	for dir != "." && dir != "/" && dir != "" {
		parts = append([]string{dir}, parts...)
		dir = path.Dir(dir)
	}
	for _, d := range parts {
		hdr := &tar.Header{
			Name:     d + "/",
			Mode:     0755,
			ModTime:  time.Unix(0, 0),
			Typeflag: tar.TypeDir,
		}
		if err := w.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tarcodec: write dir header %q: %w", d, err)
		}
	}
	return nil
}

// Extract reads a ustar archive produced by Pack (or a compatible
// single/multi-entry archive) and returns the contents of the regular file
// entry matching p. Matching ignores a leading slash on either side.
func Extract(archive []byte, p string) ([]byte, error) {
	want := strings.TrimPrefix(p, "/")
	r := tar.NewReader(bytes.NewReader(archive))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tarcodec: read header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if strings.TrimPrefix(hdr.Name, "/") != want {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("tarcodec: read body: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("tarcodec: %q not found in archive", p)
}
