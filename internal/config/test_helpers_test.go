package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// loadFixture 加载 testdata 下的配置样例。
func loadFixture(t *testing.T, name string) (*Config, error) {
	t.Helper()
	return Load(filepath.Join("testdata", name))
}

// loadTOML 把内联 TOML 写入临时目录后加载，缓存目录同样落在临时目录。
func loadTOML(t *testing.T, body string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "offline-hub.toml")
	body = strings.ReplaceAll(body, "$STORAGE", filepath.ToSlash(filepath.Join(dir, "storage")))
	if err := os.WriteFile(path, []byte(strings.TrimSpace(body)), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return Load(path)
}
