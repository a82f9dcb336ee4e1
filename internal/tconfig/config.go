// Package tconfig loads and saves the daemon's TOML configuration file,
// with environment-variable expansion and override support.
package tconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default intervals and paths per the configuration contract.
const (
	DefaultProcessPollingIntervalMs  = 5
	DefaultBatchSubmissionIntervalMs = 10000
	DefaultNewRunPauseMs             = 600000
	DefaultFileStabilityPeriodMs     = 60000
	DefaultProcessMetricsIntervalMs  = 10000

	// DefaultSyslogPath is the syslog Stream Tailer's source file.
	DefaultSyslogPath = "/var/log/syslog"
	// DefaultInterceptorOutputPath is where the shell-alias interceptor
	// (cmd/tracer install-alias) tees the merged stdout/stderr of wrapped
	// commands for the second Stream Tailer.
	DefaultInterceptorOutputPath = "/tmp/tracerd-exec.out"
)

// FileWatchPattern is one first-match-wins file classification rule for the
// File Watcher, decoded from configuration. Kind selects which of
// DirectoryPrefix or Regex applies: "directory_prefix", "filename_regex", or
// "path_regex". Action is "upload" or "none"; anything else is treated as
// "none".
type FileWatchPattern struct {
	Kind            string `toml:"kind"`
	DirectoryPrefix string `toml:"directory_prefix"`
	Regex           string `toml:"regex"`
	Action          string `toml:"action"`
}

// Target is one process-matching rule. See internal/target for match semantics.
type Target struct {
	Name              string   `toml:"name"`
	BinaryPathRegex   string   `toml:"binary_path_regex"`
	ShortLived        string   `toml:"short_lived_executable"`
	DisplayNamePolicy string   `toml:"display_name_policy"`
	FilterOutCommands []string `toml:"filter_out_commands"`
	FilterOutPaths    []string `toml:"filter_out_binary_paths"`
	FilterOutNames    []string `toml:"filter_out_names"`
	MergeWithParentsBy string  `toml:"merge_with_parents_by"`
}

// Config is the fully-resolved daemon configuration.
type Config struct {
	APIKey     string `toml:"api_key"`
	ServiceURL string `toml:"service_url"`

	ProcessPollingIntervalMs  int64 `toml:"process_polling_interval_ms"`
	BatchSubmissionIntervalMs int64 `toml:"batch_submission_interval_ms"`
	NewRunPauseMs             int64 `toml:"new_run_pause_ms"`
	FileStabilityPeriodMs     int64 `toml:"file_size_not_changing_period_ms"`
	ProcessMetricsIntervalMs  int64 `toml:"process_metrics_send_interval_ms"`

	Targets []Target `toml:"targets"`

	WorkflowDir         string             `toml:"workflow_dir"`
	FileWatchPatterns   []FileWatchPattern `toml:"file_watch_patterns"`
	DatasetFilePatterns []string           `toml:"dataset_file_patterns"`

	SyslogPath            string   `toml:"syslog_path"`
	InterceptorOutputPath string   `toml:"interceptor_output_path"`
	SyslogMatchKeywords   []string `toml:"syslog_match_keywords"`

	AWSRegion    string `toml:"aws_region"`
	AWSProfile   string `toml:"aws_profile"`
	AWSRoleARN   string `toml:"aws_role_arn"`
	ExportBucket string `toml:"export_bucket"`

	DBURL string `toml:"db_url"`
}

// Default returns a Config populated with the contract's documented defaults.
// APIKey and ServiceURL are left empty; they have no safe default.
func Default() Config {
	return Config{
		ProcessPollingIntervalMs:  DefaultProcessPollingIntervalMs,
		BatchSubmissionIntervalMs: DefaultBatchSubmissionIntervalMs,
		NewRunPauseMs:             DefaultNewRunPauseMs,
		FileStabilityPeriodMs:     DefaultFileStabilityPeriodMs,
		ProcessMetricsIntervalMs:  DefaultProcessMetricsIntervalMs,
		SyslogPath:                DefaultSyslogPath,
		InterceptorOutputPath:     DefaultInterceptorOutputPath,
	}
}

// DefaultPath returns $HOME/.config/tracerd/tracerd.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tconfig: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tracerd", "tracerd.toml"), nil
}

// Load reads and decodes the TOML file at path, expanding ${VAR} references
// and applying TRACER_API_KEY / TRACER_SERVICE_URL environment overrides.
//
// A missing or invalid file is not fatal: the caller's policy (per the
// configuration-error handling contract) is to log and fall back to
// Default() rather than abort startup — Load returns that decision to the
// caller as a distinguishable error so it can apply the policy itself.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tconfig: read %s: %w", path, err)
	}

	expanded := ExpandEnv(raw)

	cfg := Default()
	if _, err := toml.Decode(string(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("tconfig: decode %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	cfg.ServiceURL = stripLegacySuffix(cfg.ServiceURL)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("TRACER_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("TRACER_SERVICE_URL"); ok {
		cfg.ServiceURL = v
	}
	if v, ok := os.LookupEnv("TRACER_WORKFLOW_DIR"); ok {
		cfg.WorkflowDir = v
	}
}

// stripLegacySuffix removes a trailing "/data-collector-api" from url for
// backward compatibility with configs written against the legacy contract.
func stripLegacySuffix(url string) string {
	const legacySuffix = "/data-collector-api"
	return strings.TrimSuffix(strings.TrimSuffix(url, "/"), legacySuffix)
}

// Save writes cfg to path as TOML, creating parent directories as needed.
// Save/Load round-trips every recognized field.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tconfig: create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tconfig: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("tconfig: encode %s: %w", path, err)
	}
	return nil
}

// SortedTargetNames returns the configured targets' display names in
// sorted order, skipping targets with an empty name.
func (c Config) SortedTargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names
}
