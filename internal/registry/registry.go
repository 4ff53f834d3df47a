package registry

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var registryData []byte

type rawAdapter struct {
	Image                string   `yaml:"image"`
	Extension            string   `yaml:"extension"`
	PackageRegistryHosts []string `yaml:"packageRegistryHosts"`
}

// Registry holds all available runtime adapters, keyed by runtime tag.
var Registry map[string]Adapter

// packageRegistryHosts mirrors rawAdapter.PackageRegistryHosts for Get callers
// that need the whitelist-promotion regexes (engine step 2).
var packageRegistryHosts map[string][]string

func init() {
	var raw map[string]rawAdapter
	if err := yaml.Unmarshal(registryData, &raw); err != nil {
		panic("registry: invalid registry.yaml: " + err.Error())
	}

	Registry = make(map[string]Adapter, len(raw))
	packageRegistryHosts = make(map[string][]string, len(raw))

	for name, r := range raw {
		name := name
		a := Adapter{
			Name:      name,
			Image:     r.Image,
			Extension: r.Extension,
			argv:      argvBuilders[name],
		}
		if ib, ok := installBuilders[name]; ok {
			a.installArgv = ib
		}
		if a.argv == nil {
			panic("registry: no argv builder registered for runtime " + name)
		}
		Registry[name] = a
		packageRegistryHosts[name] = r.PackageRegistryHosts
	}
}

// argvBuilders maps runtime name to its GetCommand implementation.
var argvBuilders = map[string]func(code, filePath string) []string{
	"python": func(code, filePath string) []string { return []string{"python3", filePath} },
	"node":   func(code, filePath string) []string { return []string{"node", filePath} },
	"bun":    func(code, filePath string) []string { return []string{"bun", "run", filePath} },
	"deno":   func(code, filePath string) []string { return []string{"deno", "run", "--allow-all", filePath} },
	"bash":   func(code, filePath string) []string { return []string{"bash", filePath} },
}

// installBuilders maps runtime name to its GetInstallCommand implementation,
// for runtimes that support --install.
var installBuilders = map[string]func(packages []string) []string{
	"python": func(packages []string) []string {
		return append([]string{"pip", "install", "--no-input"}, packages...)
	},
	"node": func(packages []string) []string {
		return append([]string{"npm", "install", "--no-audit", "--no-fund"}, packages...)
	},
	"bun": func(packages []string) []string {
		return append([]string{"bun", "add"}, packages...)
	},
}

// Get returns the adapter for name, or an UnknownRuntime-wrapped error.
func Get(name string) (Adapter, error) {
	a, ok := Registry[name]
	if !ok {
		return Adapter{}, errNotFound(name)
	}
	return a, nil
}

// PackageRegistryHosts returns the package-registry whitelist regexes for the
// named runtime's adapter, used by the engine's auto-promotion step.
func PackageRegistryHosts(name string) []string {
	return packageRegistryHosts[name]
}

// extensionAliases maps a file extension (including the dot) to a runtime
// name. It is a fixed table, not derived from Registry, and includes the
// extra node extensions (.cjs/.mjs) and deno's .mts.
var extensionAliases = map[string]string{
	".py":  "python",
	".js":  "node",
	".cjs": "node",
	".mjs": "node",
	".ts":  "bun",
	".mts": "deno",
	".sh":  "bash",
}

// Detect maps a file path's extension to an adapter.
func Detect(path string) (Adapter, error) {
	ext := extOf(path)
	name, ok := extensionAliases[ext]
	if !ok {
		return Adapter{}, fmt.Errorf("registry: no runtime detected for extension %q", ext)
	}
	return Get(name)
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
