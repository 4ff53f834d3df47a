package imagebuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isol8/isol8/internal/registry"
)

func TestDockerfileTemplatesCoverEveryRegistryRuntime(t *testing.T) {
	for name := range registry.Registry {
		_, ok := runtimeDockerfiles[name]
		require.Truef(t, ok, "no Dockerfile template for runtime %q", name)
	}
}

func TestDockerfileEmbedsIsol8Binary(t *testing.T) {
	for name, spec := range runtimeDockerfiles {
		df := spec.dockerfile()
		require.Containsf(t, df, "COPY isol8 /usr/local/bin/isol8", "runtime %q", name)
		require.Containsf(t, df, "FROM "+spec.baseImage, "runtime %q", name)
		require.Containsf(t, df, "useradd --system --gid sandbox", "runtime %q", name)
	}
}

func TestDockerfileInstallsFirewallPrerequisites(t *testing.T) {
	df := runtimeDockerfiles["python"].dockerfile()
	require.Contains(t, df, "iptables")
	require.Contains(t, df, "tini")
}

func TestDockerfileWorkdirIsSandbox(t *testing.T) {
	for _, spec := range runtimeDockerfiles {
		require.True(t, strings.HasSuffix(strings.TrimSpace(spec.dockerfile()), "WORKDIR /sandbox"))
	}
}
