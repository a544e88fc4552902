package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is the path checked for YAML configuration.
	DefaultConfigFile = "shopsync.yaml"
	// DefaultEnvFile is the path checked for dotenv configuration.
	DefaultEnvFile = ".env"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Missing default files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile, DefaultEnvFile)
}

// LoadFrom is Load with explicit file paths. An empty path skips that
// layer. Only the default file names may be missing.
func LoadFrom(yamlPath, envPath string) (*Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if err := loadYAML(&cfg, yamlPath, yamlPath != DefaultConfigFile); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
	}

	dotenv, err := readDotEnv(envPath, envPath != DefaultEnvFile)
	if err != nil {
		return nil, fmt.Errorf("config env file: %w", err)
	}

	if err := loadEnv(&cfg, environ{dotenv: dotenv}); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// A missing file is an error only when required is set.
func loadYAML(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// readDotEnv parses a dotenv file without touching the process environment.
func readDotEnv(path string, required bool) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// environ resolves variables from the process environment first, then the
// dotenv file.
type environ struct {
	dotenv map[string]string
	errs   []error
}

func (e *environ) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.dotenv[key]
}

func (e *environ) invalid(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty values override the current config; malformed ones are
// reported together.
func loadEnv(cfg *Config, env environ) error {
	// Unprefixed names are kept for existing deployments.
	env.setString(&cfg.Shop.ID, "SHOP_ID")
	env.setString(&cfg.Shop.APIKey, "API_KEY")
	env.setString(&cfg.Cloud.BaseURL, "API_BASE_URL")
	env.setString(&cfg.Bridge.ExportDir, "E4U_EXPORT_DIR")
	env.setString(&cfg.Bridge.ExportDir, "EXPORT_DIR")
	env.setMillis(&cfg.Agent.PollInterval, "POLL_INTERVAL_MS")
	env.setString(&cfg.Store.Path, "DB_PATH")

	env.setDuration(&cfg.Cloud.Timeout, "SHOPSYNC_CLOUD_TIMEOUT")
	env.setInt(&cfg.Cloud.MaxAttempts, "SHOPSYNC_CLOUD_MAX_ATTEMPTS")
	env.setDuration(&cfg.Cloud.BackoffBase, "SHOPSYNC_CLOUD_BACKOFF_BASE")
	env.setInt(&cfg.Agent.RetryAlertThreshold, "SHOPSYNC_RETRY_ALERT_THRESHOLD")

	env.setBool(&cfg.Simulator.Enabled, "SHOPSYNC_SIMULATOR")
	env.setDuration(&cfg.Simulator.Interval, "SHOPSYNC_SIMULATOR_INTERVAL")
	env.setFloat64(&cfg.Simulator.BillProbability, "SHOPSYNC_SIMULATOR_PROBABILITY")

	env.setString(&cfg.Status.Addr, "SHOPSYNC_STATUS_ADDR")

	env.setString(&cfg.Logging.Level, "SHOPSYNC_LOG_LEVEL")
	env.setString(&cfg.Logging.Service, "SHOPSYNC_LOG_SERVICE")
	env.setString(&cfg.Logging.File, "SHOPSYNC_LOG_FILE")

	return errors.Join(env.errs...)
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Cloud.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Cloud.BaseURL), "/")
}

// validate checks cfg against the embedded CUE schema.
func validate(cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	err := def.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if path := strings.Join(e.Path(), "."); path != "" && !strings.HasPrefix(msg, path) {
			msg = path + ": " + msg
		}
		verr.Problems = append(verr.Problems, msg)
	}
	return verr
}

func (e *environ) setString(dst *string, key string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *environ) setInt(dst *int, key string) {
	if v := e.get(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *environ) setFloat64(dst *float64, key string) {
	if v := e.get(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *environ) setBool(dst *bool, key string) {
	if v := e.get(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *environ) setDuration(dst *time.Duration, key string) {
	if v := e.get(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = d
	}
}

// setMillis reads a plain integer number of milliseconds.
func (e *environ) setMillis(dst *time.Duration, key string) {
	if v := e.get(key); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = time.Duration(ms) * time.Millisecond
	}
}
