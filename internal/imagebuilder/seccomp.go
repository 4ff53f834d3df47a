package imagebuilder

import _ "embed"

//go:embed seccomp-profile.json
var seccompProfileJSON []byte

// DefaultSeccompProfile returns the JSON seccomp profile every strict-mode
// container is created with (containerrt.Config.SeccompProfile).
func DefaultSeccompProfile() []byte {
	return seccompProfileJSON
}
