package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	supportwidget "github.com/MegaGrindStone/support-widget"
	"github.com/MegaGrindStone/support-widget/internal/handlers"
	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// backendConfig describes where the support backend lives.
type backendConfig interface {
	// baseURL returns the root of the backend API, given the port of the widget server.
	baseURL(port string) string
	// mount registers the in-process routes of the backend, if any, and returns their cleanup.
	mount(mux *http.ServeMux, logger *slog.Logger) (func() error, error)
}

type config struct {
	Port            string        `yaml:"port" env:"PORT"`
	APIURL          string        `yaml:"apiURL" env:"API_URL"`
	LogLevel        string        `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"logFormat" env:"LOG_FORMAT"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
	FeedbackTimeout time.Duration `yaml:"feedbackTimeout" env:"FEEDBACK_TIMEOUT"`
	MaxSessions     int           `yaml:"maxSessions" env:"MAX_SESSIONS"`
	Widget          widgetConfig  `yaml:"widget" envPrefix:"WIDGET_"`
	Backend         backendConfig `yaml:"-" env:"-"`
}

type widgetConfig struct {
	BotName         string   `yaml:"botName" env:"BOT_NAME"`
	WelcomeMessage  string   `yaml:"welcomeMessage" env:"WELCOME_MESSAGE"`
	FallbackMessage string   `yaml:"fallbackMessage" env:"FALLBACK_MESSAGE"`
	QuickReplies    []string `yaml:"quickReplies" env:"QUICK_REPLIES" envSeparator:"|"`
}

// remoteBackendConfig points the widget to a support backend running elsewhere.
type remoteBackendConfig struct {
	APIURL string `yaml:"apiURL"`
}

// devBackendConfig serves the development backend from the widget server itself.
type devBackendConfig struct {
	DB         string        `yaml:"db"`
	FAQ        string        `yaml:"faq"`
	ChunkDelay time.Duration `yaml:"chunkDelay"`
}

const (
	envPrefix      = "SUPPORT_WIDGET_"
	configPathEnv  = envPrefix + "CONFIG"
	configDirName  = "supportwidget"
	devAPIPrefix   = "/api"
	defaultAPIURL  = "http://localhost:8000/api"
	defaultPort    = "8080"
	defaultTimeout = 60 * time.Second
)

func defaultConfig() config {
	return config{
		Port:            defaultPort,
		APIURL:          defaultAPIURL,
		LogLevel:        "info",
		LogFormat:       "text",
		RequestTimeout:  defaultTimeout,
		FeedbackTimeout: 10 * time.Second,
		MaxSessions:     1000,
	}
}

// loadConfig builds the configuration from the defaults, the YAML file, the .env file and the
// environment, each overriding the previous one. A missing file is not an error.
func loadConfig() (config, error) {
	cfg := defaultConfig()

	path, err := configPath()
	if err != nil {
		return config{}, err
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env file: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	if cfg.Backend == nil {
		cfg.Backend = remoteBackendConfig{APIURL: cfg.APIURL}
	}

	return cfg, cfg.validate()
}

func configPath() (string, error) {
	if p := os.Getenv(configPathEnv); p != "" {
		return p, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, configDirName, "config.yaml"), nil
}

func (c config) validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("maxSessions must be positive, got %d", c.MaxSessions)
	}
	if c.RequestTimeout < 0 || c.FeedbackTimeout < 0 {
		return errors.New("timeouts can't be negative")
	}
	return nil
}

func (c config) widgetConfig() handlers.Config {
	return handlers.Config{
		BotName: c.Widget.BotName,
		Widget: widget.Config{
			WelcomeMessage:  c.Widget.WelcomeMessage,
			FallbackMessage: c.Widget.FallbackMessage,
			QuickReplies:    c.Widget.QuickReplies,
			RequestTimeout:  c.RequestTimeout,
			FeedbackTimeout: c.FeedbackTimeout,
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	// The alias drops this method, so the plain fields decode without recursion.
	type plain config
	var rawConfig struct {
		plain   `yaml:",inline"`
		Backend map[string]any `yaml:"backend"`
	}
	rawConfig.plain = plain(*c)

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = config(rawConfig.plain)

	if rawConfig.Backend == nil {
		return nil
	}

	backendType, ok := rawConfig.Backend["type"].(string)
	if !ok {
		return fmt.Errorf("backend type is required")
	}
	delete(rawConfig.Backend, "type")

	backendRawYAML, err := yaml.Marshal(rawConfig.Backend)
	if err != nil {
		return err
	}

	var backend backendConfig
	switch backendType {
	case "remote":
		remote := &remoteBackendConfig{}
		if err := yaml.Unmarshal(backendRawYAML, remote); err != nil {
			return err
		}
		if remote.APIURL == "" {
			remote.APIURL = c.APIURL
		}
		backend = *remote
	case "dev":
		dev := &devBackendConfig{}
		if err := yaml.Unmarshal(backendRawYAML, dev); err != nil {
			return err
		}
		backend = *dev
	default:
		return fmt.Errorf("unknown backend type: %s", backendType)
	}

	c.Backend = backend

	return nil
}

func (r remoteBackendConfig) baseURL(string) string {
	return strings.TrimSuffix(r.APIURL, "/")
}

func (r remoteBackendConfig) mount(*http.ServeMux, *slog.Logger) (func() error, error) {
	return func() error { return nil }, nil
}

func (d devBackendConfig) baseURL(port string) string {
	return "http://localhost:" + port + devAPIPrefix
}

func (d devBackendConfig) mount(mux *http.ServeMux, logger *slog.Logger) (func() error, error) {
	dbPath := d.DB
	if dbPath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("error getting user config dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(cfgDir, configDirName), 0755); err != nil {
			return nil, fmt.Errorf("error creating config directory: %w", err)
		}
		dbPath = filepath.Join(cfgDir, configDirName, "dev.db")
	}

	faq, err := loadFAQ(d.FAQ)
	if err != nil {
		return nil, err
	}

	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		return nil, err
	}

	handlers.NewDevBackend(boltDB, faq, d.ChunkDelay, logger).Register(mux, devAPIPrefix)

	return boltDB.Close, nil
}

// loadFAQ reads the catalog at path, or the embedded one when path is empty.
func loadFAQ(path string) (services.FAQ, error) {
	if path == "" {
		return services.LoadFAQ(bytes.NewReader(supportwidget.DefaultFAQ))
	}

	f, err := os.Open(path)
	if err != nil {
		return services.FAQ{}, fmt.Errorf("error opening faq file: %w", err)
	}
	defer f.Close()

	return services.LoadFAQ(f)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}
