package outpututil

import (
	"testing"

	"github.com/isol8/isol8/internal/errkind"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512m", 512 * 1024 * 1024, false},
		{"1g", 1024 * 1024 * 1024, false},
		{"256k", 256 * 1024, false},
		{"1024", 1024, false},
		{"512mb", 512 * 1024 * 1024, false},
		{"invalid", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseMemory(c.in)
		if c.wantErr {
			require.Error(t, err, c.in)
			require.ErrorIs(t, err, errkind.BadRequest)
			continue
		}
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestTruncateUnderLimit(t *testing.T) {
	data := []byte("hello")
	out, truncated := Truncate(data, 10)
	require.False(t, truncated)
	require.Equal(t, data, out)
}

func TestTruncateOverLimit(t *testing.T) {
	data := make([]byte, 100)
	out, truncated := Truncate(data, 10)
	require.True(t, truncated)
	require.LessOrEqual(t, len(out), 10+TruncateMarkerLen())
}

func TestTruncateExactLimit(t *testing.T) {
	data := []byte("0123456789")
	out, truncated := Truncate(data, 10)
	require.False(t, truncated)
	require.Equal(t, data, out)
}

func TestRedact(t *testing.T) {
	got := Redact("token=my-super-secret-12345 ok", map[string]string{"K": "my-super-secret-12345", "EMPTY": ""})
	require.Equal(t, "token=*** ok", got)
	require.NotContains(t, got, "my-super-secret-12345")
}

func TestRedactNoSecrets(t *testing.T) {
	got := Redact("hello", nil)
	require.Equal(t, "hello", got)
}
