package imagebuilder

import (
	"archive/tar"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildContextTarIncludesDockerfileAndFiles(t *testing.T) {
	r, err := buildContextTar("FROM scratch\n", map[string][]byte{"isol8": []byte("binary-bytes")})
	require.NoError(t, err)

	tr := tar.NewReader(r)
	seen := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		seen[hdr.Name] = content
	}

	require.Equal(t, []byte("FROM scratch\n"), seen["Dockerfile"])
	require.Equal(t, []byte("binary-bytes"), seen["isol8"])
}

func TestDrainBuildOutputSurfacesBuildError(t *testing.T) {
	body := `{"stream":"step 1\n"}
{"error":"exit code 1"}
`
	err := drainBuildOutput(strings.NewReader(body), "tag:test")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exit code 1")
}

func TestDrainBuildOutputOKWhenNoError(t *testing.T) {
	body := `{"stream":"step 1\n"}
{"stream":"step 2\n"}
`
	require.NoError(t, drainBuildOutput(strings.NewReader(body), "tag:test"))
}
