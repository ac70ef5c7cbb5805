package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/tagstore/internal/config"
	"github.com/calvinalkan/tagstore/internal/fs"
)

// isolatedEnv points the global config lookup at an empty directory.
func isolatedEnv(t *testing.T) map[string]string {
	t.Helper()

	return map[string]string{"XDG_CONFIG_HOME": t.TempDir()}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: workDir, Env: isolatedEnv(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.TagsDirAbs, filepath.Join(workDir, "tag_files"); got != want {
		t.Fatalf("TagsDirAbs=%q, want %q", got, want)
	}

	if cfg.Listen != ":3000" || cfg.Mount != "/tags" || cfg.Debounce.Std() != 500*time.Millisecond {
		t.Fatalf("defaults=%+v", cfg)
	}

	if diff := cmp.Diff(fs.DefaultLockOptions(), cfg.LockOptions()); diff != "" {
		t.Fatalf("LockOptions mismatch (-want +got):\n%s", diff)
	}

	if cfg.Sources.Global != "" || cfg.Sources.Project != "" {
		t.Fatalf("Sources=%+v, want none", cfg.Sources)
	}
}

func Test_Load_Applies_Layers_In_Precedence_Order(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	env := isolatedEnv(t)

	globalFile := filepath.Join(env["XDG_CONFIG_HOME"], "tagd", "config.json")
	writeFile(t, globalFile, `{
		// global
		"tags_dir": "global-tags",
		"listen": ":4000",
		"log_level": "debug",
	}`)

	projectFile := filepath.Join(workDir, config.FileName)
	writeFile(t, projectFile, `{"tags_dir": "project-tags", "debounce": "50ms", "lock_retries": 2}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: workDir, Env: env})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TagsDir != "project-tags" || cfg.Listen != ":4000" || cfg.LogLevel != "debug" {
		t.Fatalf("merged=%+v", cfg)
	}

	if cfg.Debounce.Std() != 50*time.Millisecond || cfg.LockRetries != 2 {
		t.Fatalf("debounce=%s retries=%d", cfg.Debounce, cfg.LockRetries)
	}

	if cfg.Sources.Global != globalFile || cfg.Sources.Project != projectFile {
		t.Fatalf("Sources=%+v", cfg.Sources)
	}

	env["TAGS_DIR"] = "env-tags"
	env["PORT"] = "8080"

	cfg, err = config.Load(config.LoadInput{WorkDirOverride: workDir, Env: env})
	if err != nil {
		t.Fatalf("Load with env: %v", err)
	}

	if cfg.TagsDir != "env-tags" || cfg.Listen != ":8080" {
		t.Fatalf("env not applied: %+v", cfg)
	}

	if diff := cmp.Diff([]string{"TAGS_DIR", "PORT"}, cfg.Sources.Env); diff != "" {
		t.Fatalf("Sources.Env mismatch (-want +got):\n%s", diff)
	}

	cfg, err = config.Load(config.LoadInput{
		WorkDirOverride: workDir,
		Env:             env,
		TagsDirOverride: "/abs/flag-tags",
		ListenOverride:  "127.0.0.1:9999",
		MountOverride:   "api/tags/",
	})
	if err != nil {
		t.Fatalf("Load with flags: %v", err)
	}

	if cfg.TagsDirAbs != "/abs/flag-tags" || cfg.Listen != "127.0.0.1:9999" || cfg.Mount != "/api/tags" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func Test_Load_Uses_Explicit_Config_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, config.FileName), `{"tags_dir": "project"}`)
	writeFile(t, filepath.Join(workDir, "custom.json"), `{"tags_dir": "custom"}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: workDir, ConfigPath: "custom.json", Env: isolatedEnv(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TagsDir != "custom" {
		t.Fatalf("TagsDir=%q, want custom", cfg.TagsDir)
	}
}

func Test_Load_Returns_Error_When_Config_Is_Bad(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		path    string
		wantErr error
	}{
		{name: "InvalidJSON", content: `{"tags_dir": }`, wantErr: config.ErrConfigInvalid},
		{name: "EmptyTagsDir", content: `{"tags_dir": ""}`, wantErr: config.ErrTagsDirEmpty},
		{name: "BadDuration", content: `{"debounce": "soon"}`, wantErr: config.ErrConfigInvalid},
		{name: "BadLevel", content: `{"log_level": "loud"}`, wantErr: config.ErrInvalidValue},
		{name: "BadFormat", content: `{"log_format": "xml"}`, wantErr: config.ErrInvalidValue},
		{name: "BadFactor", content: `{"lock_backoff_factor": 0.5}`, wantErr: config.ErrInvalidValue},
		{name: "MissingExplicit", path: "nope.json", wantErr: config.ErrConfigFileNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			workDir := t.TempDir()
			input := config.LoadInput{WorkDirOverride: workDir, Env: isolatedEnv(t)}

			if testCase.path != "" {
				input.ConfigPath = testCase.path
			} else {
				writeFile(t, filepath.Join(workDir, config.FileName), testCase.content)
			}

			_, err := config.Load(input)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("Load: err=%v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func Test_Load_Rejects_Empty_Tags_Dir_In_Global_Config(t *testing.T) {
	t.Parallel()

	env := isolatedEnv(t)
	writeFile(t, filepath.Join(env["XDG_CONFIG_HOME"], "tagd", "config.json"), `{"tags_dir": ""}`)

	_, err := config.Load(config.LoadInput{WorkDirOverride: t.TempDir(), Env: env})
	if !errors.Is(err, config.ErrTagsDirEmpty) {
		t.Fatalf("Load: err=%v, want %v", err, config.ErrTagsDirEmpty)
	}
}

func Test_Load_Enables_Dead_Holder_Reclaim_Only_When_Configured(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: workDir, Env: isolatedEnv(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LockOptions().ReclaimDeadHolders {
		t.Fatal("ReclaimDeadHolders=true by default, want false")
	}

	writeFile(t, filepath.Join(workDir, config.FileName), `{"lock_reclaim_dead_holders": true}`)

	cfg, err = config.Load(config.LoadInput{WorkDirOverride: workDir, Env: isolatedEnv(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.LockOptions().ReclaimDeadHolders {
		t.Fatal("ReclaimDeadHolders=false, want true from project config")
	}
}
