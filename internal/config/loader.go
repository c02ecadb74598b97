package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(ByteSize(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Every missing, unparsable or invalid value is reported in one error.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	l := &envLoader{getenv: getenv}
	l.walk(reflect.ValueOf(cfg).Elem())
	cfg.Staging.Mode = strings.ToLower(strings.TrimSpace(cfg.Staging.Mode))

	var errs *multierror.Error
	if l.errs != nil {
		errs = multierror.Append(errs, fmt.Errorf("config load: %w", l.errs))
	}
	if err := cfg.Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("config validation: %w", err))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envLoader fills struct fields from their env, envAlt, default and
// required tags, collecting every failure.
type envLoader struct {
	getenv func(string) string
	errs   *multierror.Error
}

func (l *envLoader) walk(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct && field.Type != timeType {
			l.walk(fv)
			continue
		}
		l.fill(field, fv)
	}
}

func (l *envLoader) fill(field reflect.StructField, fv reflect.Value) {
	name := field.Tag.Get("env")
	if name == "" {
		return
	}

	value := l.getenv(name)
	if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
		value = l.getenv(alt)
	}
	if value == "" {
		if field.Tag.Get("required") == "true" {
			l.errs = multierror.Append(l.errs, fmt.Errorf("required environment variable %s is not set", name))
			return
		}
		value = field.Tag.Get("default")
	}
	if value == "" {
		return
	}

	if err := setField(fv, value); err != nil {
		l.errs = multierror.Append(l.errs, fmt.Errorf("invalid value for %s=%q: %w", name, value, err))
	}
}

// setField parses value into field according to the field's type.
func setField(field reflect.Value, value string) error {
	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case byteSizeType:
		b, err := ParseByteSize(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(b))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var p problems

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		p.addf("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		p.add("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.WriteTimeout < 0 {
		p.add("SERVER_WRITE_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		p.add("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Backend validation
	if c.Backend.URL != "" {
		if err := checkHTTPURL(c.Backend.URL); err != nil {
			p.addf("BACKEND_URL %v", err)
		}
	}
	if c.Backend.PublicURL != "" {
		if err := checkHTTPURL(c.Backend.PublicURL); err != nil {
			p.addf("PUBLIC_URL %v", err)
		}
	}
	if c.Backend.LocalPort <= 0 || c.Backend.LocalPort > 65535 {
		p.addf("BACKEND_LOCAL_PORT (%d) must be 1-65535", c.Backend.LocalPort)
	}
	if c.Backend.Timeout <= 0 {
		p.add("BACKEND_TIMEOUT must be positive")
	}

	// Staging validation
	switch strings.ToLower(c.Staging.Mode) {
	case "multi", "single":
	default:
		p.addf("STAGING_MODE (%q) must be one of: multi, single", c.Staging.Mode)
	}
	if c.Staging.MaxFileSize < 0 {
		p.add("STAGING_MAX_FILE_SIZE must be non-negative")
	}
	if c.Staging.SessionTTL <= 0 {
		p.add("STAGING_SESSION_TTL must be positive")
	}
	if c.Staging.SweepInterval <= 0 {
		p.add("STAGING_SWEEP_INTERVAL must be positive")
	}
	// A sweep must never release the files of a submission still running.
	if c.Staging.SessionTTL > 0 && c.Submit.Timeout > 0 && c.Staging.SessionTTL <= c.Submit.Timeout {
		p.addf("STAGING_SESSION_TTL (%s) must be longer than SUBMIT_TIMEOUT (%s)",
			c.Staging.SessionTTL, c.Submit.Timeout)
	}

	// Submit validation
	if c.Submit.MaxConcurrent <= 0 {
		p.add("SUBMIT_MAX_CONCURRENT must be positive")
	}
	if c.Submit.MaxWaitTime <= 0 {
		p.add("SUBMIT_MAX_WAIT_TIME must be positive")
	}
	if c.Submit.Timeout <= 0 {
		p.add("SUBMIT_TIMEOUT must be positive")
	}

	// Database validation, only relevant when a database is configured
	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			p.addf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns)
		}
		if c.Database.MaxConns <= 0 {
			p.add("DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			p.add("DB_MIN_CONNS must be non-negative")
		}
	}
	if c.Database.HistoryRetention < 0 {
		p.add("HISTORY_RETENTION must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		p.add("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		p.add("RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		p.add("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	for _, cidr := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			p.addf("TRUSTED_PROXIES entry %q is not an IP or CIDR", cidr)
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		p.addf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		p.addf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	return p.err()
}

// problems collects validation failures in the order they are found.
type problems []string

func (p *problems) add(msg string) { *p = append(*p, msg) }

func (p *problems) addf(format string, args ...any) { p.add(fmt.Sprintf(format, args...)) }

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("(%q) is not a valid URL: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("(%q) must be an absolute http or https URL", raw)
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	dbURL := "[NONE]"
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Backend: {URL: %q, PublicURL: %q, LocalPort: %d, Timeout: %s}, ",
		c.Backend.URL, c.Backend.PublicURL, c.Backend.LocalPort, c.Backend.Timeout))
	b.WriteString(fmt.Sprintf("Staging: {Mode: %q, MaxFileSize: %s, SessionTTL: %s}, ",
		c.Staging.Mode, c.Staging.MaxFileSize, c.Staging.SessionTTL))
	b.WriteString(fmt.Sprintf("Submit: {MaxConcurrent: %d, Timeout: %s}, ",
		c.Submit.MaxConcurrent, c.Submit.Timeout))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		dbURL, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
