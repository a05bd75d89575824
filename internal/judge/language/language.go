// Package language defines how each supported language is compiled and run.
package language

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

const mib = 1 << 20

// Spec describes one language. Command templates may use {src}, {bin} and {dir},
// which expand to paths relative to the sandbox working directory.
type Spec struct {
	ID               string             `yaml:"id" toml:"id"`
	Name             string             `yaml:"name" toml:"name"`
	SourceFile       string             `yaml:"sourceFile" toml:"source_file"`
	BinaryFile       string             `yaml:"binaryFile" toml:"binary_file"`
	MainClass        string             `yaml:"mainClass" toml:"main_class"`
	CompileCmdTpl    string             `yaml:"compile" toml:"compile"`
	RunCmdTpl        string             `yaml:"run" toml:"run"`
	CheckCmdTpl      string             `yaml:"check" toml:"check"`
	Artifacts        []string           `yaml:"artifacts" toml:"artifacts"`
	Image            string             `yaml:"image" toml:"image"`
	Profile          string             `yaml:"profile" toml:"profile"`
	Env              []string           `yaml:"env" toml:"env"`
	Limits           spec.ResourceLimit `yaml:"limits" toml:"limits"`
	CompileLimits    spec.ResourceLimit `yaml:"compileLimits" toml:"compile_limits"`
	TimeMultiplier   float64            `yaml:"timeMultiplier" toml:"time_multiplier"`
	MemoryMultiplier float64            `yaml:"memoryMultiplier" toml:"memory_multiplier"`
}

// Builtin returns the default language table.
func Builtin() []Spec {
	compileLimits := spec.ResourceLimit{CPUTimeMs: 10000, WallTimeMs: 30000, MemoryBytes: 512 * mib, OutputBytes: mib, PIDs: 64}
	return []Spec{
		{
			ID:            "PYTHON",
			Name:          "Python",
			SourceFile:    "solution.py",
			RunCmdTpl:     "python3 {src}",
			CheckCmdTpl:   "python3 -m py_compile {src}",
			Image:         "python:3.12-slim",
			Env:           []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
			Limits:        spec.ResourceLimit{CPUTimeMs: 5000, MemoryBytes: 128 * mib},
			CompileLimits: compileLimits,
		},
		{
			ID:            "JAVA",
			Name:          "Java",
			SourceFile:    "Solution.java",
			MainClass:     "Solution",
			CompileCmdTpl: "javac -encoding UTF-8 -cp {dir} {src}",
			RunCmdTpl:     "java -Xss64m -cp {dir} Solution",
			Artifacts:     []string{"*.class"},
			Image:         "eclipse-temurin:21-jdk",
			Limits:        spec.ResourceLimit{CPUTimeMs: 10000, MemoryBytes: 512 * mib, PIDs: 128},
			CompileLimits: compileLimits,
		},
		{
			ID:            "CPP",
			Name:          "C++",
			SourceFile:    "solution.cpp",
			BinaryFile:    "solution",
			CompileCmdTpl: "g++ -o {bin} {src} -std=c++17 -O2",
			RunCmdTpl:     "{bin}",
			Artifacts:     []string{"solution"},
			Image:         "gcc:13",
			Limits:        spec.ResourceLimit{CPUTimeMs: 10000, MemoryBytes: 512 * mib},
			CompileLimits: compileLimits,
		},
	}
}

// CompileEnabled reports whether the language has a compile step.
func (s Spec) CompileEnabled() bool {
	return strings.TrimSpace(s.CompileCmdTpl) != ""
}

// CompileCommand expands the compile template.
func (s Spec) CompileCommand() ([]string, error) {
	return s.command(s.CompileCmdTpl)
}

// RunCommand expands the run template.
func (s Spec) RunCommand() ([]string, error) {
	return s.command(s.RunCmdTpl)
}

// CheckCommand expands the optional load check template. It returns nil when
// the language has none.
func (s Spec) CheckCommand() ([]string, error) {
	if strings.TrimSpace(s.CheckCmdTpl) == "" {
		return nil, nil
	}
	return s.command(s.CheckCmdTpl)
}

func (s Spec) command(tpl string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", s.SourceFile)
	if s.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", "./"+s.BinaryFile)
	}
	expanded = strings.ReplaceAll(expanded, "{dir}", ".")
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// RunLimits merges override onto the language defaults and applies the multipliers.
func (s Spec) RunLimits(override spec.ResourceLimit) spec.ResourceLimit {
	return s.scale(s.Limits.Merge(override))
}

// CompileLimitsFor merges override onto the compile defaults.
func (s Spec) CompileLimitsFor(override spec.ResourceLimit) spec.ResourceLimit {
	return s.CompileLimits.Merge(override)
}

func (s Spec) scale(limits spec.ResourceLimit) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, s.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, s.TimeMultiplier)
	limits.MemoryBytes = scaleLimit(limits.MemoryBytes, s.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

var publicClassRE = regexp.MustCompile(`\bpublic\s+(?:(?:final|abstract|strictfp)\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// PrepareSource rewrites the submission before it is written to SourceFile.
// With MainClass set, the first public class and every reference to it are
// renamed so the file name and class name agree.
func (s Spec) PrepareSource(code string) string {
	if s.MainClass == "" {
		return code
	}
	m := publicClassRE.FindStringSubmatch(code)
	if m == nil || m[1] == s.MainClass {
		return code
	}
	ref := regexp.MustCompile(`\b` + regexp.QuoteMeta(m[1]) + `\b`)
	return ref.ReplaceAllLiteralString(code, s.MainClass)
}

func (s Spec) validate() error {
	switch {
	case s.ID == "":
		return appErr.ValidationError("language.id", "required")
	case s.SourceFile == "":
		return appErr.ValidationError("language."+s.ID+".sourceFile", "required")
	case strings.TrimSpace(s.RunCmdTpl) == "":
		return appErr.ValidationError("language."+s.ID+".run", "required")
	}
	return nil
}

// Registry resolves language ids case-insensitively.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds a registry. Ids are upper-cased; duplicates are rejected.
func NewRegistry(specs []Spec) (*Registry, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	reg := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		s.ID = normalizeID(s.ID)
		if err := s.validate(); err != nil {
			return nil, err
		}
		if !seen.Add(s.ID) {
			return nil, appErr.ValidationError("language.id", "duplicate "+s.ID)
		}
		reg.specs[s.ID] = s
	}
	return reg, nil
}

// Lookup returns the language with the given id.
func (r *Registry) Lookup(id string) (Spec, error) {
	key := normalizeID(id)
	if key == "" {
		return Spec{}, appErr.ValidationError("language", "required")
	}
	s, ok := r.specs[key]
	if !ok {
		return Spec{}, appErr.Newf(appErr.LanguageNotSupported, "Unsupported language: %s", id)
	}
	return s, nil
}

// Detect picks the language whose source file is present in dir. It fails
// when no source file or more than one is found.
func (r *Registry) Detect(dir string) (Spec, error) {
	var found []Spec
	for _, id := range r.IDs() {
		s := r.specs[id]
		if s.SourceFile == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, s.SourceFile)); err == nil && info.Mode().IsRegular() {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return Spec{}, appErr.Newf(appErr.ArtifactNotFound, "no source file of a known language in %s", dir)
	case 1:
		return found[0], nil
	}
	ids := make([]string, len(found))
	for i, s := range found {
		ids[i] = s.ID
	}
	return Spec{}, appErr.ValidationError("language", "ambiguous, found sources for "+strings.Join(ids, ", "))
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Restrict keeps only the listed ids. An empty list keeps everything.
func (r *Registry) Restrict(ids []string) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	out := &Registry{specs: make(map[string]Spec, len(ids))}
	for _, id := range ids {
		s, err := r.Lookup(id)
		if err != nil {
			return nil, err
		}
		out.specs[s.ID] = s
	}
	return out, nil
}

// Overlay replaces base entries by id with those from extra and appends new ones.
func Overlay(base, extra []Spec) []Spec {
	out := slices.Clone(base)
	for _, e := range extra {
		idx := slices.IndexFunc(out, func(s Spec) bool { return normalizeID(s.ID) == normalizeID(e.ID) })
		if idx >= 0 {
			out[idx] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

type fileDoc struct {
	Languages []Spec `yaml:"languages"`
}

// LoadFile reads a YAML document with a top-level languages list.
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "read language file failed")
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse language file failed")
	}
	return doc.Languages, nil
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
