package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

const defaultPageTimeout = 60 * time.Second

type config struct {
	URL             string        `yaml:"url" validate:"required"`
	Email           emailConfig   `yaml:"email"`
	ExtensionScript string        `yaml:"extension_script" validate:"omitempty,url"`
	Browser         browserConfig `yaml:"browser"`
	Duration        string        `yaml:"duration"`
	Output          string        `yaml:"output"`
}

// emailConfig holds the report recipient and the mail service used to
// reach it. Interval is in seconds.
type emailConfig struct {
	Address  string  `yaml:"address"`
	Interval float64 `yaml:"interval" validate:"gte=0"`
	Service  string  `yaml:"service" validate:"required_with=Address"`
	Subject  string  `yaml:"subject"`
	Template string  `yaml:"template"`
}

type browserConfig struct {
	Headless  *bool  `yaml:"headless"`
	NoSandbox bool   `yaml:"no_sandbox"`
	Timeout   string `yaml:"timeout"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// loadConfig reads the YAML config at path, expanding environment
// variables first. An empty path yields an empty config.
func loadConfig(path string) (*config, error) {
	var cfg config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to expand env vars: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// validate ensures the configuration is usable. Problems with the email
// address alone are not errors, they only disable dispatch.
func (c *config) validate() error {
	err := configValidator.Struct(c)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", describeValidationErrors(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := newWebsite(c.URL); err != nil {
		return err
	}

	if _, err := c.duration(); err != nil {
		return err
	}

	if _, err := c.pageTimeout(); err != nil {
		return err
	}

	return nil
}

// emailSettings returns the dispatch settings, disabled when either the
// address or the interval is unusable
func (c *config) emailSettings(logger *slog.Logger) emailSettings {
	address := strings.TrimSpace(c.Email.Address)
	if address == "" || c.Email.Interval <= 0 {
		return emailSettings{}
	}

	if err := configValidator.Var(address, "email"); err != nil {
		logger.Warn("invalid report email address, dispatch disabled", "email", address)
		return emailSettings{}
	}

	return emailSettings{
		address:  address,
		interval: time.Duration(c.Email.Interval * float64(time.Second)),
	}
}

// duration returns how long to monitor the page, zero meaning until
// interrupted
func (c *config) duration() (time.Duration, error) {
	return parseDuration("duration", c.Duration, 0)
}

// pageTimeout returns the time allowed for the page to load
func (c *config) pageTimeout() (time.Duration, error) {
	return parseDuration("browser.timeout", c.Browser.Timeout, defaultPageTimeout)
}

// headless defaults to true
func (c *config) headless() bool {
	return c.Browser.Headless == nil || *c.Browser.Headless
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, value)
	}

	return d, nil
}

func describeValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "required_with":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s is set", fe.Namespace(), fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", fe.Namespace()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}

	return strings.Join(msgs, "; ")
}
