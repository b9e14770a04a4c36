package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configPathEnv, path)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != defaultPort || cfg.MaxSessions != 1000 || cfg.RequestTimeout != defaultTimeout {
		t.Errorf("loadConfig() = %+v, want defaults", cfg)
	}
	remote, ok := cfg.Backend.(remoteBackendConfig)
	if !ok || remote.APIURL != defaultAPIURL {
		t.Errorf("Backend = %#v, want remote at %s", cfg.Backend, defaultAPIURL)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	writeConfig(t, `
port: "9090"
apiURL: http://support.internal/api/
requestTimeout: 45s
widget:
  botName: Aiuto
  quickReplies: ["Uno", "Due"]
`)
	t.Setenv("SUPPORT_WIDGET_MAX_SESSIONS", "5")
	t.Setenv("SUPPORT_WIDGET_WIDGET_BOT_NAME", "Assistente")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.RequestTimeout)
	}
	if cfg.FeedbackTimeout != 10*time.Second {
		t.Errorf("FeedbackTimeout = %v, want the default", cfg.FeedbackTimeout)
	}
	if cfg.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d, want 5 from the environment", cfg.MaxSessions)
	}
	if cfg.Widget.BotName != "Assistente" {
		t.Errorf("BotName = %q, want the environment override", cfg.Widget.BotName)
	}
	if len(cfg.Widget.QuickReplies) != 2 {
		t.Errorf("QuickReplies = %v", cfg.Widget.QuickReplies)
	}
	if got := cfg.Backend.baseURL(cfg.Port); got != "http://support.internal/api" {
		t.Errorf("baseURL() = %q", got)
	}
}

func TestConfigUnmarshalBackend(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "dev backend",
			yaml: "port: \"8081\"\nbackend:\n  type: dev\n  chunkDelay: 20ms\n  faq: ./faq.yaml\n",
			check: func(t *testing.T, cfg config) {
				dev, ok := cfg.Backend.(devBackendConfig)
				if !ok {
					t.Fatalf("Backend = %#v, want dev", cfg.Backend)
				}
				if dev.ChunkDelay != 20*time.Millisecond || dev.FAQ != "./faq.yaml" {
					t.Errorf("dev = %+v", dev)
				}
				if got := dev.baseURL(cfg.Port); got != "http://localhost:8081/api" {
					t.Errorf("baseURL() = %q", got)
				}
			},
		},
		{
			name: "remote backend",
			yaml: "backend:\n  type: remote\n  apiURL: http://example.com/api\n",
			check: func(t *testing.T, cfg config) {
				remote, ok := cfg.Backend.(remoteBackendConfig)
				if !ok || remote.APIURL != "http://example.com/api" {
					t.Errorf("Backend = %#v", cfg.Backend)
				}
			},
		},
		{
			name: "defaults kept",
			yaml: "logLevel: debug\n",
			check: func(t *testing.T, cfg config) {
				if cfg.LogLevel != "debug" || cfg.Port != defaultPort || cfg.Backend != nil {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{name: "missing type", yaml: "backend:\n  apiURL: x\n", wantErr: true},
		{name: "unknown type", yaml: "backend:\n  type: grpc\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			err := yaml.NewDecoder(strings.NewReader(tt.yaml)).Decode(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("output = %s", buf.String())
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("newLogger() should reject an unknown level")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Error("newLogger() should reject an unknown format")
	}
}

func TestDevBackendMount(t *testing.T) {
	dev := devBackendConfig{DB: filepath.Join(t.TempDir(), "dev.db")}

	mux := http.NewServeMux()
	closeFn, err := dev.mount(mux, discardLogger())
	if err != nil {
		t.Fatalf("mount() error = %v", err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			t.Errorf("close error = %v", err)
		}
	}()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/health = %d, want %d", rec.Code, http.StatusOK)
	}
}
