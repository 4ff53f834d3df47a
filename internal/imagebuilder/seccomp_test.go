package imagebuilder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSeccompProfileIsValidJSON(t *testing.T) {
	var parsed struct {
		DefaultAction string `json:"defaultAction"`
		Syscalls      []struct {
			Names  []string `json:"names"`
			Action string   `json:"action"`
		} `json:"syscalls"`
	}
	require.NoError(t, json.Unmarshal(DefaultSeccompProfile(), &parsed))
	require.Equal(t, "SCMP_ACT_ERRNO", parsed.DefaultAction)
	require.NotEmpty(t, parsed.Syscalls)
	require.Contains(t, parsed.Syscalls[0].Names, "read")
}
