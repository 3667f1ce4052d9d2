package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ConfigSchema is the JSON schema for the configuration file
const ConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "database": {
      "type": "object",
      "properties": {
        "path": {"type": "string"}
      }
    },
    "engine": {
      "type": "object",
      "properties": {
        "app_url": {"type": "string", "minLength": 1},
        "headless": {"type": "boolean"},
        "pool_size": {"type": "integer", "minimum": 1},
        "timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "cleanup": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "idle_minutes": {"type": "integer", "minimum": 1},
        "schedule": {"type": "string", "minLength": 1}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "error", "fatal", "panic"]},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "file": {"type": "string"}
      }
    },
    "data_dir": {"type": "string"}
  }
}`

// ValidateFile validates a config file on disk against the schema
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return validateBytes(data)
}

func validateBytes(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(ConfigSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Validate performs semantic checks the schema cannot express
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Engine.AppURL == "" {
		return fmt.Errorf("engine app_url is required")
	}
	if c.Engine.PoolSize < 1 {
		return fmt.Errorf("engine pool_size must be at least 1")
	}
	if c.Engine.TimeoutSeconds < 1 {
		return fmt.Errorf("engine timeout_seconds must be at least 1")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}

	if c.Cleanup.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Cleanup.Schedule); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", c.Cleanup.Schedule, err)
		}
		if c.Cleanup.IdleMinutes < 1 {
			return fmt.Errorf("cleanup idle_minutes must be at least 1")
		}
	}

	return nil
}
