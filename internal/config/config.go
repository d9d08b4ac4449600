package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env     string `validate:"required,oneof=dev prod"`
	Backend struct {
		BaseURL string `validate:"required,url"`
		Token   string
		Timeout time.Duration
	}
	Registry struct {
		Driver string `validate:"required,oneof=sqlite postgres"`
		Path   string
		DSN    string
	}
	Push struct {
		Driver string `validate:"omitempty,oneof=nats redis"`
		URL    string
	}
	HTTP struct {
		Addr string `validate:"required"`
	}
	Janitor struct {
		Schedule  string        `validate:"required"`
		Retention time.Duration `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.Backend.BaseURL = os.Getenv("BACKEND_BASE_URL")
	c.Backend.Token = os.Getenv("BACKEND_TOKEN")
	c.Backend.Timeout = getdur("BACKEND_TIMEOUT", 30*time.Second)
	c.Registry.Driver = getenv("REGISTRY_DRIVER", "sqlite")
	c.Registry.Path = getenv("REGISTRY_PATH", "data/registry.db")
	c.Registry.DSN = os.Getenv("REGISTRY_DSN")
	c.Push.Driver = os.Getenv("PUSH_DRIVER")
	c.Push.URL = os.Getenv("PUSH_URL")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Janitor.Schedule = getenv("JANITOR_SCHEDULE", "@every 1h")
	c.Janitor.Retention = getdur("JANITOR_RETENTION", 72*time.Hour)
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/studyflow.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Registry.Driver == "postgres" && c.Registry.DSN == "" {
		return Config{}, errors.New("REGISTRY_DSN required when REGISTRY_DRIVER is postgres")
	}
	if c.Push.Driver != "" && c.Push.URL == "" {
		return Config{}, errors.New("PUSH_URL required when PUSH_DRIVER is set")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
