package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{Global: GlobalConfig{
		ListenPort:      1024,
		NThreads:        4,
		KeepAlive:       Duration(5e9),
		ShutdownTimeout: Duration(10e9),
		ImgRoot:         "/srv/images",
		JPEGQuality:     80,
		DocRoute:        "/server",
		CacheHysteresis: 0.15,
		LogLevel:        "info",
	}}
}
