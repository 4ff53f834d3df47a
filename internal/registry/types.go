// Package registry is the runtime registry (C4): a closed enumeration of
// language adapters mapping a runtime tag to its image, argv builders, file
// extension, and install command.
package registry

import (
	"fmt"

	"github.com/isol8/isol8/internal/errkind"
)

// Adapter describes one supported runtime.
type Adapter struct {
	// Name is the runtime tag (e.g. "python").
	Name string
	// Image is the base container image for this runtime.
	Image string
	// Extension is the file extension used for the injected program file.
	Extension string

	argv        func(code, filePath string) []string
	installArgv func(packages []string) []string
}

// GetCommand returns the argv to execute the program at filePath. code is
// passed for adapters that run source inline rather than from a file path
// (none currently do, but the hook matches spec.md's contract).
func (a Adapter) GetCommand(code, filePath string) []string {
	return a.argv(code, filePath)
}

// GetFileExtension returns the extension (including the leading dot) used
// for the main program file, e.g. ".py".
func (a Adapter) GetFileExtension() string { return a.Extension }

// GetInstallCommand returns the argv to install the given packages, or nil
// if this adapter does not support package installation.
func (a Adapter) GetInstallCommand(packages []string) []string {
	if a.installArgv == nil || len(packages) == 0 {
		return nil
	}
	return a.installArgv(packages)
}

// SupportsInstall reports whether this adapter can install packages.
func (a Adapter) SupportsInstall() bool { return a.installArgv != nil }

func errNotFound(name string) error {
	return fmt.Errorf("%w: %q", errkind.UnknownRuntime, name)
}
