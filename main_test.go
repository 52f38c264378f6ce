package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"run", "once", "db", "meeting", "version", "logs", "health"}
	for _, name := range want {
		sub, _, err := rootCmd.Find([]string{name})
		if err != nil || sub == nil || sub.Name() != name {
			t.Errorf("subcommand %q not found (err=%v)", name, err)
		}
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level", "log-json"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag not found on root command", name)
		}
	}
	if f := rootCmd.PersistentFlags().ShorthandLookup("c"); f == nil || f.Name != "config" {
		t.Error("-c should be the shorthand for --config")
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	for _, k := range []string{"MEETCAP_CONFIG", "MEETCAP_LOG_LEVEL", "MEETCAP_LOG_JSON", "MEETCAP_CORE_BASE_URL",
		"MEETCAP_BLOB_ENDPOINT", "MEETCAP_CORE_MODE", "DATABASE_URL", "DB_HOST"} {
		t.Setenv(k, "")
	}

	path := filepath.Join(t.TempDir(), "meetcap.yaml")
	content := "core:\n  base_url: http://core:8080\nblob:\n  endpoint: minio:9000\nlogging:\n  level: info\n  json: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	origFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() {
		cfgFile, logLevel = origFile, origLevel
		rootCmd.PersistentFlags().Set("log-json", "false")
	})

	cfgFile = path
	logLevel = "debug"
	if err := rootCmd.PersistentFlags().Set("log-json", "false"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Logging.Level != logging.LevelDebug {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Logging.JSON {
		t.Error("--log-json=false should override the file")
	}
}

func TestLoadConfig_InvalidLevelFlag(t *testing.T) {
	t.Setenv("MEETCAP_CONFIG", "")
	t.Setenv("MEETCAP_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "meetcap.yaml")
	content := "core:\n  base_url: http://core:8080\nblob:\n  endpoint: minio:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	origFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() { cfgFile, logLevel = origFile, origLevel })
	cfgFile, logLevel = path, "chatty"

	if _, err := loadConfig(); err == nil {
		t.Fatal("loadConfig() should reject an unknown log level")
	}
}
