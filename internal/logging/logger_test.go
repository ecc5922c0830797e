package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/imghub/imghub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("logger should write to stdout without a file")
	}
}

func TestInitLoggerFallbackWhenDirUnusable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocker, "sub", "imghub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("init should not fail: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("logger should fall back to stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imghub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
}

func TestInitLoggerFallbackWhenPathIsDirectory(t *testing.T) {
	dir := t.TempDir()
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFilePath: dir})
	if err != nil {
		t.Fatalf("init should not fail: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("a directory path should fall back to stdout")
	}
}

func TestInitLoggerStampsServiceFields(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("action", "serve").Info("request_done")
	logger.WithField("service", "sidecar").Info("override")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first entry: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second entry: %v", err)
	}
	if first["service"] != ServiceName || first["version"] == "" || first["version"] == nil {
		t.Fatalf("entry missing service fields: %v", first)
	}
	if second["service"] != "sidecar" {
		t.Fatalf("explicit service field was overwritten: %v", second)
	}
	if logrus.StandardLogger().GetLevel() != logrus.InfoLevel {
		t.Fatalf("default logger level not synced")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "chatty"}); err == nil {
		t.Fatalf("unknown level should fail")
	}
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields("images", "a.tif", "image", "allow", true)
	if fields["identifier"] != "a.tif" || fields["cache_hit"] != true {
		t.Fatalf("unexpected fields %v", fields)
	}
}
