package security

import (
	"os"
	"path/filepath"
	"testing"

	appErr "judgecore/pkg/errors"
)

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry([]IsolationProfile{{Name: "cpp", RootFS: "/srv/rootfs", SeccompProfile: "cpp.yaml"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	prof, err := reg.Resolve("")
	if err != nil || prof.Name != DefaultProfile {
		t.Fatalf("Resolve(\"\") = %+v, %v", prof, err)
	}
	prof, err = reg.Resolve("cpp")
	if err != nil || prof.RootFS != "/srv/rootfs" {
		t.Fatalf("Resolve(cpp) = %+v, %v", prof, err)
	}
	if _, err := reg.Resolve("missing"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "cpp" || names[1] != "default" {
		t.Fatalf("Names() = %v", names)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]IsolationProfile{{Name: "a"}, {Name: "a"}})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestSeccompKind(t *testing.T) {
	tests := []struct {
		file string
		want SeccompKind
	}{
		{"", SeccompNone},
		{"default.json", SeccompLibseccomp},
		{"python.yaml", SeccompBPF},
		{"java.YML", SeccompBPF},
	}
	for _, tt := range tests {
		if got := (IsolationProfile{SeccompProfile: tt.file}).SeccompKind(); got != tt.want {
			t.Errorf("SeccompKind(%q) = %v, want %v", tt.file, got, tt.want)
		}
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `profiles:
  - name: default
    seccomp: strict.yaml
    disableNetwork: true
  - name: java
    mounts:
      - source: /usr/lib/jvm
        target: /usr/lib/jvm
        readOnly: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	def, _ := reg.Resolve("")
	if def.SeccompProfile != "strict.yaml" {
		t.Fatalf("configured default should override built-in, got %+v", def)
	}
	java, _ := reg.Resolve("java")
	if len(java.Mounts) != 1 || !java.Mounts[0].ReadOnly {
		t.Fatalf("java mounts = %+v", java.Mounts)
	}
}
