package sandboxproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideOpenProxy(t *testing.T) {
	require.Equal(t, Allow, Decide(nil, nil, "example.com"))
}

func TestDecideWhitelistMatch(t *testing.T) {
	w, err := CompileList([]string{`.*\.pypi\.org`, `registry\.npmjs\.org`})
	require.NoError(t, err)

	require.Equal(t, Allow, Decide(w, nil, "files.pypi.org"))
	require.Equal(t, Allow, Decide(w, nil, "registry.npmjs.org"))
	require.Equal(t, Block, Decide(w, nil, "evil.example.com"))
}

func TestDecideBlacklistPrecedesWhitelist(t *testing.T) {
	w, err := CompileList([]string{`.*`})
	require.NoError(t, err)
	b, err := CompileList([]string{`evil\.example\.com`})
	require.NoError(t, err)

	require.Equal(t, Block, Decide(w, b, "evil.example.com"))
	require.Equal(t, Allow, Decide(w, b, "fine.example.com"))
}

func TestDecideEmptyBlacklistNoEffect(t *testing.T) {
	w, err := CompileList([]string{`fine\.example\.com`})
	require.NoError(t, err)

	require.Equal(t, Allow, Decide(w, nil, "fine.example.com"))
}

func TestCompileListAnchorsFullMatch(t *testing.T) {
	res, err := CompileList([]string{`example\.com`})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.True(t, res[0].MatchString("example.com"))
	require.False(t, res[0].MatchString("notexample.com"))
	require.False(t, res[0].MatchString("example.com.evil.com"))
}
