package imagebuilder

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// buildContextTar packages dockerfile plus any additional context files into
// a tar stream suitable for the Docker SDK's ImageBuild API.
func buildContextTar(dockerfile string, files map[string][]byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := writeTarFile(tw, "Dockerfile", []byte(dockerfile), 0644); err != nil {
		return nil, err
	}
	for name, content := range files {
		mode := int64(0644)
		if name == "isol8" {
			mode = 0755
		}
		if err := writeTarFile(tw, name, content, mode); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	return &buf, nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte, mode int64) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: mode, Size: int64(len(content))}); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing %s to tar: %w", name, err)
	}
	return nil
}

// drainBuildOutput reads the Docker SDK's newline-delimited JSON build log,
// surfacing the first build error it sees.
func drainBuildOutput(r io.Reader, tag string) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading build output for %s: %w", tag, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build error for %s: %s", tag, msg.Error)
		}
	}
}

// drainPull discards an image pull's progress stream, reporting only a
// transport error if one occurs.
func drainPull(r io.Reader) (int64, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return n, fmt.Errorf("draining pull output: %w", err)
	}
	return n, nil
}
