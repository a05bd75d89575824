// Package security defines sandbox isolation profiles.
package security

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"
)

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

// IsolationProfile describes filesystem, network and seccomp settings for a run.
type IsolationProfile struct {
	Name           string           `yaml:"name"`
	RootFS         string           `yaml:"rootfs"`
	SeccompProfile string           `yaml:"seccomp"`
	DisableNetwork bool             `yaml:"disableNetwork"`
	Hostname       string           `yaml:"hostname"`
	Mounts         []spec.MountSpec `yaml:"mounts"`
}

// SeccompKind tells which loader understands the profile file.
type SeccompKind int

const (
	SeccompNone SeccompKind = iota
	// SeccompLibseccomp is a JSON profile compiled through libseccomp.
	SeccompLibseccomp
	// SeccompBPF is a YAML policy compiled in pure Go.
	SeccompBPF
)

// SeccompKind derives the loader from the profile file extension.
func (p IsolationProfile) SeccompKind() SeccompKind {
	switch strings.ToLower(filepath.Ext(p.SeccompProfile)) {
	case "":
		return SeccompNone
	case ".yaml", ".yml":
		return SeccompBPF
	default:
		return SeccompLibseccomp
	}
}

// Registry resolves profile names.
type Registry struct {
	profiles map[string]IsolationProfile
}

// NewRegistry builds a registry. Duplicate or empty names are rejected.
func NewRegistry(profiles []IsolationProfile) (*Registry, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	reg := &Registry{profiles: make(map[string]IsolationProfile, len(profiles))}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, appErr.ValidationError("profile.name", "required")
		}
		if !seen.Add(p.Name) {
			return nil, appErr.ValidationError("profile.name", "duplicate "+p.Name)
		}
		reg.profiles[p.Name] = p
	}
	if !seen.Contains(DefaultProfile) {
		reg.profiles[DefaultProfile] = Default()
	}
	return reg, nil
}

// Default is the built-in profile: no network, default seccomp profile, host rootfs.
func Default() IsolationProfile {
	return IsolationProfile{
		Name:           DefaultProfile,
		SeccompProfile: "default.json",
		DisableNetwork: true,
		Hostname:       "sandbox",
	}
}

// LoadRegistry reads profiles from a YAML file of the form `profiles: [...]`.
// An empty path yields a registry holding only the default profile.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "read profile file failed")
	}
	var doc struct {
		Profiles []IsolationProfile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse profile file failed")
	}
	return NewRegistry(doc.Profiles)
}

// Resolve maps a profile name to isolation settings.
func (r *Registry) Resolve(name string) (IsolationProfile, error) {
	if name == "" {
		name = DefaultProfile
	}
	prof, ok := r.profiles[name]
	if !ok {
		return IsolationProfile{}, appErr.Newf(appErr.NotFound, "profile %s not found", name)
	}
	return prof, nil
}

// Names lists the registered profiles.
func (r *Registry) Names() []string {
	names := mapset.NewThreadUnsafeSet[string]()
	for name := range r.profiles {
		names.Add(name)
	}
	out := names.ToSlice()
	slices.Sort(out)
	return out
}
