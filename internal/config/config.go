// Package config loads the session configuration. Non-secret settings come
// from a YAML file; SMTP/IMAP credentials come from environment variables.
// Components receive the resulting value explicitly so sends and polls stay
// deterministic under fixture configurations.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envSMTPHost = "MAILTRACK_SMTP_HOST"
	envSMTPPort = "MAILTRACK_SMTP_PORT"
	envSMTPUser = "MAILTRACK_SMTP_USER"
	envSMTPPass = "MAILTRACK_SMTP_PASS"
	envIMAPHost = "MAILTRACK_IMAP_HOST"
	envIMAPPort = "MAILTRACK_IMAP_PORT"
	envIMAPUser = "MAILTRACK_IMAP_USER"
	envIMAPPass = "MAILTRACK_IMAP_PASS"
)

// Config holds the non-secret configuration.
type Config struct {
	TokenPrefix    string   `yaml:"token_prefix"`
	SubjectBase    string   `yaml:"subject_base"`
	DefaultCC      []string `yaml:"default_cc"`
	TemplatePath   string   `yaml:"template_path"`
	AttachFiles    []string `yaml:"attach_files"`
	ScanFolders    []string `yaml:"scan_folders"`
	Lookback       string   `yaml:"lookback"`
	MaxScan        int      `yaml:"max_scan_per_folder"`
	MaxAttachBytes int64    `yaml:"max_attachment_bytes"`
	AttachBaseDir  string   `yaml:"attachment_dir"`
	SendThrottle   string   `yaml:"send_throttle"`
	DBPath         string   `yaml:"db_path"`
	ListenAddr     string   `yaml:"listen_addr"`
}

// MailEnv holds the SMTP and IMAP connection details from environment
// variables.
type MailEnv struct {
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	IMAPHost string
	IMAPPort int
	IMAPUser string
	IMAPPass string
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = "ABA#"
	}
	if cfg.Lookback == "" {
		cfg.Lookback = "7d"
	}
	if cfg.MaxScan == 0 {
		cfg.MaxScan = 400
	}
	if cfg.SendThrottle == "" {
		cfg.SendThrottle = "800ms"
	}
	if len(cfg.ScanFolders) == 0 {
		cfg.ScanFolders = []string{"Inbox"}
	}
	if cfg.AttachBaseDir == "" {
		cfg.AttachBaseDir = "attachments"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "mailtrack.db"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8025"
	}
}

// Validate performs basic validation on the non-secret config.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SubjectBase) == "" {
		return errors.New("config must set subject_base")
	}
	if strings.ContainsAny(cfg.TokenPrefix, "[]") {
		return errors.New("token_prefix must not contain brackets")
	}
	if _, err := ParseRelativeDuration(cfg.Lookback); err != nil {
		return fmt.Errorf("invalid lookback: %w", err)
	}
	if _, err := time.ParseDuration(cfg.SendThrottle); err != nil {
		return fmt.Errorf("invalid send_throttle: %w", err)
	}
	if cfg.MaxScan < 0 || cfg.MaxAttachBytes < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// LookbackWindow returns the parsed lookback duration.
func (c Config) LookbackWindow() time.Duration {
	d, _ := ParseRelativeDuration(c.Lookback)
	return d
}

// Throttle returns the parsed inter-message delay.
func (c Config) Throttle() time.Duration {
	d, _ := time.ParseDuration(c.SendThrottle)
	return d
}

// ParseRelativeDuration parses Go durations plus a "d" suffix for days, so
// a lookback can be written "7d".
func ParseRelativeDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if strings.HasSuffix(trimmed, "d") {
		daysValue := strings.TrimSuffix(trimmed, "d")
		days, err := strconv.ParseFloat(strings.TrimSpace(daysValue), 64)
		if err != nil {
			return 0, err
		}
		if days < 0 {
			return 0, errors.New("duration must be positive")
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, errors.New("duration must be positive")
	}
	return dur, nil
}

// MailEnvFromEnv loads mail credentials and reports every missing variable
// at once.
func MailEnvFromEnv() (MailEnv, error) {
	missing := []string{}
	read := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	env := MailEnv{
		SMTPHost: read(envSMTPHost),
		SMTPUser: read(envSMTPUser),
		SMTPPass: read(envSMTPPass),
		IMAPHost: read(envIMAPHost),
		IMAPUser: read(envIMAPUser),
		IMAPPass: read(envIMAPPass),
	}
	smtpPort := read(envSMTPPort)
	imapPort := read(envIMAPPort)

	if len(missing) > 0 {
		return MailEnv{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if env.SMTPPort, err = strconv.Atoi(smtpPort); err != nil {
		return MailEnv{}, fmt.Errorf("invalid %s: %w", envSMTPPort, err)
	}
	if env.IMAPPort, err = strconv.Atoi(imapPort); err != nil {
		return MailEnv{}, fmt.Errorf("invalid %s: %w", envIMAPPort, err)
	}
	return env, nil
}
