// Package config loads a profile's settings from config.toml, .env files
// and CHATSYNC_* environment variables, in that order of precedence from
// lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "chatsync"
	// FileName is the per-profile config file.
	FileName = "config.toml"
)

// Config is a profile's configuration.
type Config struct {
	APIBaseURL     string `toml:"api_base_url" envconfig:"api_base_url" validate:"required,url"`
	LoginURL       string `toml:"login_url" envconfig:"login_url" validate:"required,url"`
	FrontendOrigin string `toml:"frontend_origin" envconfig:"frontend_origin" validate:"required,url"`

	SessionCookie string `toml:"session_cookie" envconfig:"session_cookie"`
	CSRFToken     string `toml:"csrf_token" envconfig:"csrf_token"`

	ConversationsInterval time.Duration `toml:"conversations_interval" envconfig:"conversations_interval" validate:"min=1s"`
	MessagesInterval      time.Duration `toml:"messages_interval" envconfig:"messages_interval" validate:"min=1s"`
	RequestTimeout        time.Duration `toml:"request_timeout" envconfig:"request_timeout" validate:"min=1s"`
	MessagePageSize       int           `toml:"message_page_size" envconfig:"message_page_size" validate:"min=1,max=200"`
	AutoSelect            bool          `toml:"auto_select" envconfig:"auto_select"`

	PushEnabled bool   `toml:"push_enabled" envconfig:"push_enabled"`
	PushPath    string `toml:"push_path" envconfig:"push_path" validate:"required,contains={id}"`

	NATSURL           string `toml:"nats_url" envconfig:"nats_url" validate:"omitempty,url"`
	NATSSubjectPrefix string `toml:"nats_subject_prefix" envconfig:"nats_subject_prefix" validate:"required,excludesall=*>"`

	OTLPEndpoint string `toml:"otlp_endpoint" envconfig:"otlp_endpoint"`
	DebugAddr    string `toml:"debug_addr" envconfig:"debug_addr" validate:"omitempty,hostname_port"`
	LogLevel     string `toml:"log_level" envconfig:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration of a local development backend.
func Default() Config {
	return Config{
		APIBaseURL:            "http://localhost:8000/",
		LoginURL:              "http://localhost:8000/account/google/login/",
		FrontendOrigin:        "http://localhost:5173",
		ConversationsInterval: 30 * time.Second,
		MessagesInterval:      10 * time.Second,
		RequestTimeout:        15 * time.Second,
		MessagePageSize:       100,
		AutoSelect:            true,
		PushPath:              "ws/chat/{id}/",
		NATSSubjectPrefix:     "chatsync",
		DebugAddr:             "127.0.0.1:9464",
		LogLevel:              "info",
	}
}

// Load builds the configuration of the profile stored in dir. A missing
// config.toml or .env is not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, FileName)
	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if keys := md.Undecoded(); len(keys) > 0 {
			names := make([]string, len(keys))
			for i, k := range keys {
				names[i] = k.String()
			}
			sort.Strings(names)
			return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(names, ", "))
		}
	}

	for _, env := range []string{filepath.Join(dir, ".env"), ".env"} {
		if err := godotenv.Load(env); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", env, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every offending key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", tomlKey(fe.StructField()), fe.ActualTag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func tomlKey(field string) string {
	f, ok := typeOfConfig.FieldByName(field)
	if !ok {
		return field
	}
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return name
}

// Save writes cfg to path, creating parent dirs as needed. The file holds
// the session cookie and is readable by the owner only.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// Global is ~/.chatsync/config.toml, shared by every profile.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// LoadGlobal reads the global config. Returns an error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGlobal writes the global config.
func SaveGlobal(path string, g *Global) error {
	return writeTOML(path, g)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

var typeOfConfig = reflect.TypeOf(Config{})
