package imagebuilder

import "fmt"

// runtimeSpec describes how to build one runtime's base image.
type runtimeSpec struct {
	baseImage string
	// packages lists apt packages this base image needs beyond its
	// language runtime: iptables for SetupFirewall, tini for PID 1 signal
	// handling, ca-certificates for the in-container proxy's TLS dials.
	packages []string
}

const sandboxUserBlock = `
RUN groupadd --system sandbox && useradd --system --gid sandbox --home-dir /sandbox --shell /usr/sbin/nologin sandbox
RUN mkdir -p /sandbox && chown sandbox:sandbox /sandbox
COPY isol8 /usr/local/bin/isol8
RUN chmod 0755 /usr/local/bin/isol8
WORKDIR /sandbox
`

func (s runtimeSpec) dockerfile() string {
	installLine := ""
	if len(s.packages) > 0 {
		pkgs := ""
		for i, p := range s.packages {
			if i > 0 {
				pkgs += " "
			}
			pkgs += p
		}
		installLine = fmt.Sprintf("RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*\n", pkgs)
	}
	return fmt.Sprintf("FROM %s\n%s%s", s.baseImage, installLine, sandboxUserBlock)
}

// runtimeDockerfiles maps a registry runtime name to its image's Dockerfile
// template. Keys must match registry.yaml's runtime tags.
var runtimeDockerfiles = map[string]runtimeSpec{
	"python": {
		baseImage: "python:3.12-slim-bookworm",
		packages:  []string{"iptables", "tini", "ca-certificates"},
	},
	"node": {
		baseImage: "node:20-bookworm-slim",
		packages:  []string{"iptables", "tini", "ca-certificates"},
	},
	"bun": {
		baseImage: "oven/bun:1-slim",
		packages:  []string{"iptables", "tini", "ca-certificates"},
	},
	"deno": {
		baseImage: "denoland/deno:debian-2.0.0",
		packages:  []string{"iptables", "tini", "ca-certificates"},
	},
	"bash": {
		baseImage: "debian:bookworm-slim",
		packages:  []string{"iptables", "tini", "ca-certificates", "bash"},
	},
}
