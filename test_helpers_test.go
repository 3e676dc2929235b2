package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/config"
)

// captureOutput 将 CLI 的 stdout/stderr 重定向到内存，测试结束后恢复。
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// fixture 返回 config 包 testdata 下的样例配置；go test 以包目录为工作目录。
func fixture(name string) string {
	return filepath.Join("internal", "config", "testdata", name)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "offline-hub.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// newShellUpstream 模拟应用源站，missing 中的路径返回 404。
func newShellUpstream(t *testing.T, missing map[string]bool) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if missing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

func bootstrapConfig(t *testing.T, origin string) *config.Config {
	t.Helper()
	path := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
StoragePath = "%s"

[App]
Name = "iq-trainer"
Origin = "%s"
Domain = "app.local"
CacheVersion = "2.0.0"

[Precache]
Shell = ["./", "index.html", "manifest.json"]
CDN = ["%s/cdn/chart.js"]
`, filepath.Join(t.TempDir(), "storage"), origin, origin))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
