package tconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvSubstitutesSetVariable(t *testing.T) {
	t.Setenv("TRACER_TEST_VAR", "resolved")
	out := ExpandEnv([]byte(`url = "${TRACER_TEST_VAR}/path"`))
	assert.Equal(t, `url = "resolved/path"`, string(out))
}

func TestExpandEnvFallsBackToDefault(t *testing.T) {
	out := ExpandEnv([]byte(`url = "${TRACER_UNSET_VAR:-fallback}"`))
	assert.Equal(t, `url = "fallback"`, string(out))
}

func TestExpandEnvUnsetWithoutDefaultExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte(`url = "${TRACER_UNSET_VAR}"`))
	assert.Equal(t, `url = ""`, string(out))
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadDecodesAndAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracerd.toml")
	require.NoError(t, Save(path, Config{
		APIKey:     "file-key",
		ServiceURL: "https://example.com/data-collector-api",
		DBURL:      "postgres://localhost/tracer",
	}))

	t.Setenv("TRACER_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "https://example.com", cfg.ServiceURL)
	assert.Equal(t, "postgres://localhost/tracer", cfg.DBURL)
}

func TestSaveLoadRoundTripsTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracerd.toml")
	cfg := Default()
	cfg.Targets = []Target{{Name: "nextflow", ShortLived: "nf-"}}

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Targets, 1)
	assert.Equal(t, "nextflow", loaded.Targets[0].Name)
}

func TestSortedTargetNamesSkipsUnnamedAndSorts(t *testing.T) {
	cfg := Config{Targets: []Target{{Name: "zeta"}, {Name: ""}, {Name: "alpha"}}}
	assert.Equal(t, []string{"alpha", "zeta"}, cfg.SortedTargetNames())
}

func TestDefaultSetsSyslogAndInterceptorPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultSyslogPath, cfg.SyslogPath)
	assert.Equal(t, DefaultInterceptorOutputPath, cfg.InterceptorOutputPath)
}

func TestLoadAppliesWorkflowDirEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracerd.toml")
	require.NoError(t, Save(path, Default()))

	t.Setenv("TRACER_WORKFLOW_DIR", "/data/work")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/work", cfg.WorkflowDir)
}

func TestSaveLoadRoundTripsFileWatchAndDatasetPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracerd.toml")
	cfg := Default()
	cfg.WorkflowDir = "/data/work"
	cfg.DatasetFilePatterns = []string{`\.fastq$`, `\.bam$`}
	cfg.FileWatchPatterns = []FileWatchPattern{
		{Kind: "path_regex", Regex: `\.vcf\.gz$`, Action: "upload"},
		{Kind: "directory_prefix", DirectoryPrefix: "/data/work/logs/", Action: "none"},
	}

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/work", loaded.WorkflowDir)
	assert.Equal(t, []string{`\.fastq$`, `\.bam$`}, loaded.DatasetFilePatterns)
	require.Len(t, loaded.FileWatchPatterns, 2)
	assert.Equal(t, "path_regex", loaded.FileWatchPatterns[0].Kind)
	assert.Equal(t, "upload", loaded.FileWatchPatterns[0].Action)
}
