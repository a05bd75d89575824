package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"judgecore/internal/judge"
	"judgecore/internal/judge/testdata"
	"judgecore/internal/judge/verdict"
	"judgecore/internal/sandbox/engine"
	"judgecore/internal/sandbox/engine/docker"
	"judgecore/internal/sandbox/limiter"
	"judgecore/internal/sandbox/observer"
	"judgecore/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	backendProcess = "process"
	backendDocker  = "docker"

	defaultHelperPath = "sandbox-init"
	defaultCgroupRoot = "/sys/fs/cgroup/judge"
	defaultSeccompDir = "configs/seccomp"
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"

	envPrefix = "JUDGE_"
)

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	Backend          string        `yaml:"backend" toml:"backend"`
	ProfilesFile     string        `yaml:"profilesFile" toml:"profiles_file"`
	CgroupRoot       string        `yaml:"cgroupRoot" toml:"cgroup_root"`
	SeccompDir       string        `yaml:"seccompDir" toml:"seccomp_dir"`
	HelperPath       string        `yaml:"helperPath" toml:"helper_path"`
	ScratchRoot      string        `yaml:"scratchRoot" toml:"scratch_root"`
	SandboxWorkDir   string        `yaml:"sandboxWorkDir" toml:"sandbox_work_dir"`
	StderrMaxBytes   int           `yaml:"stderrMaxBytes" toml:"stderr_max_bytes"`
	WaitDelay        time.Duration `yaml:"waitDelay" toml:"wait_delay"`
	Grace            limiter.Grace `yaml:"grace" toml:"grace"`
	EnableSeccomp    bool          `yaml:"enableSeccomp" toml:"enable_seccomp"`
	EnableCgroup     bool          `yaml:"enableCgroup" toml:"enable_cgroup"`
	EnableNamespaces bool          `yaml:"enableNamespaces" toml:"enable_namespaces"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// TextfilePath receives a node_exporter textfile after each command.
	TextfilePath string `yaml:"textfilePath" toml:"textfile_path"`
}

// LanguageConfig holds language definitions.
type LanguageConfig struct {
	File    string   `yaml:"file" toml:"file"`
	Enabled []string `yaml:"enabled" toml:"enabled"`
}

// AppConfig holds judge CLI config.
type AppConfig struct {
	Logger   logger.Config        `yaml:"logger" toml:"logger"`
	Sandbox  SandboxConfig        `yaml:"sandbox" toml:"sandbox"`
	Judge    judge.Config         `yaml:"judge" toml:"judge"`
	Docker   docker.Config        `yaml:"docker" toml:"docker"`
	MinIO    testdata.MinIOConfig `yaml:"minio" toml:"minio"`
	Metrics  MetricsConfig        `yaml:"metrics" toml:"metrics"`
	Language LanguageConfig       `yaml:"language" toml:"language"`
}

func loadFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(data, out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// tomlDurationKeys name the TOML keys that hold Go duration strings such as
// "500ms". TOML has no duration type, so they are rewritten to nanoseconds
// before decoding into time.Duration fields.
var tomlDurationKeys = mapset.NewThreadUnsafeSet("wait_delay", "cpu", "timeout")

func decodeTOML(data []byte, out interface{}) error {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := normalizeDurations(raw, ""); err != nil {
		return err
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, out)
}

func normalizeDurations(table map[string]interface{}, prefix string) error {
	for key, value := range table {
		switch v := value.(type) {
		case map[string]interface{}:
			if err := normalizeDurations(v, prefix+key+"."); err != nil {
				return err
			}
		case string:
			if !tomlDurationKeys.Contains(key) {
				continue
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", prefix, key, err)
			}
			table[key] = int64(d)
		}
	}
	return nil
}

// loadAppConfig reads path (optional), then .env, then JUDGE_* overrides.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = defaultLogLevel
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = defaultLogFormat
	}
	if cfg.Logger.OutputPath == "" || cfg.Logger.OutputPath == "stdout" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = backendProcess
	}
	if cfg.Sandbox.HelperPath == "" {
		cfg.Sandbox.HelperPath = defaultHelperPath
	}
	if cfg.Sandbox.CgroupRoot == "" {
		cfg.Sandbox.CgroupRoot = defaultCgroupRoot
	}
	if cfg.Sandbox.SeccompDir == "" {
		cfg.Sandbox.SeccompDir = defaultSeccompDir
	}
	if cfg.Judge.ScratchRoot == "" {
		cfg.Judge.ScratchRoot = cfg.Sandbox.ScratchRoot
	}
	if cfg.Docker.ScratchRoot == "" {
		cfg.Docker.ScratchRoot = cfg.Sandbox.ScratchRoot
	}
	cfg.Language.Enabled = dedupeIDs(cfg.Language.Enabled)
}

func (c *AppConfig) validate() error {
	switch c.Sandbox.Backend {
	case backendProcess, backendDocker:
	default:
		return fmt.Errorf("unknown sandbox backend: %s", c.Sandbox.Backend)
	}
	mode, err := verdict.ParseMode(string(c.Judge.Compare.Mode))
	if err != nil {
		return fmt.Errorf("judge.compare.mode: %w", err)
	}
	c.Judge.Compare.Mode = mode
	if c.Judge.Parallelism < 0 {
		return fmt.Errorf("judge.parallelism must not be negative")
	}
	return nil
}

// applyEnv overlays JUDGE_* variables onto cfg.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.Logger.Level)
	str("LOG_FORMAT", &cfg.Logger.Format)
	str("BACKEND", &cfg.Sandbox.Backend)
	str("HELPER_PATH", &cfg.Sandbox.HelperPath)
	str("CGROUP_ROOT", &cfg.Sandbox.CgroupRoot)
	str("SCRATCH_ROOT", &cfg.Sandbox.ScratchRoot)
	str("WORKDIR", &cfg.Judge.WorkDir)
	str("DOCKER_IMAGE", &cfg.Docker.Image)
	str("MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	str("MINIO_BUCKET", &cfg.MinIO.Bucket)
	str("METRICS_FILE", &cfg.Metrics.TextfilePath)
	str("LANGUAGE_FILE", &cfg.Language.File)

	if v, ok := lookup(envPrefix + "COMPARE_MODE"); ok && v != "" {
		mode, err := verdict.ParseMode(v)
		if err != nil {
			return fmt.Errorf("%sCOMPARE_MODE: %w", envPrefix, err)
		}
		cfg.Judge.Compare.Mode = mode
	}
	if v, ok := lookup(envPrefix + "PARALLELISM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPARALLELISM: %w", envPrefix, err)
		}
		cfg.Judge.Parallelism = n
	}
	if v, ok := lookup(envPrefix + "STOP_ON_FIRST_FAILURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTOP_ON_FIRST_FAILURE: %w", envPrefix, err)
		}
		cfg.Judge.StopOnFirstFailure = b
	}
	if v, ok := lookup(envPrefix + "LANGUAGES"); ok && v != "" {
		cfg.Language.Enabled = strings.Split(v, ",")
	}
	return nil
}

// dedupeIDs upper-cases ids and drops blanks and repeats, keeping first-seen order.
func dedupeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || !seen.Add(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s SandboxConfig) toEngineConfig(rec observer.MetricsRecorder) engine.Config {
	return engine.Config{
		CgroupRoot:       s.CgroupRoot,
		SeccompDir:       s.SeccompDir,
		HelperPath:       s.HelperPath,
		ScratchRoot:      s.ScratchRoot,
		SandboxWorkDir:   s.SandboxWorkDir,
		StderrMaxBytes:   s.StderrMaxBytes,
		WaitDelay:        s.WaitDelay,
		Grace:            s.Grace,
		EnableSeccomp:    s.EnableSeccomp,
		EnableCgroup:     s.EnableCgroup,
		EnableNamespaces: s.EnableNamespaces,
		Recorder:         rec,
	}
}
