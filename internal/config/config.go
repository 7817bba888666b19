// Package config loads opmigrate settings from a YAML file plus OPMIGRATE_*
// environment variables. Environment values override the file; flags override
// both at the command layer.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Instance is one OpenProject endpoint with its credentials.
type Instance struct {
	URL                string
	APIKey             string
	InsecureSkipVerify bool
}

// HTTP tunes the shared client behavior. Field types line up with op.Options
// so commands can pass them through directly.
type HTTP struct {
	MaxRetries int
	RetryDelay time.Duration
	PageSize   int
}

// Mail holds the Microsoft Graph app registration used to send reports.
type Mail struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	Recipients   []string
}

// Config is the full resolved configuration.
type Config struct {
	Source  Instance
	Target  Instance
	HTTP    HTTP
	Restore struct {
		Workers int
	}
	Backup struct {
		Workers int
		Dir     string
	}
	Mail Mail
}

// Load reads configuration from path, or from opmigrate.yaml in the working
// directory when path is empty. A missing file is not an error when no
// explicit path was given; the environment alone may carry everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("opmigrate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OPMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay", "5s")
	v.SetDefault("http.page_size", 100)
	v.SetDefault("restore.workers", 4)
	v.SetDefault("backup.workers", 4)
	v.SetDefault("backup.dir", ".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Source: Instance{
			URL:                v.GetString("source.url"),
			APIKey:             v.GetString("source.api_key"),
			InsecureSkipVerify: v.GetBool("source.insecure_skip_verify"),
		},
		Target: Instance{
			URL:                v.GetString("target.url"),
			APIKey:             v.GetString("target.api_key"),
			InsecureSkipVerify: v.GetBool("target.insecure_skip_verify"),
		},
		HTTP: HTTP{
			MaxRetries: v.GetInt("http.max_retries"),
			RetryDelay: v.GetDuration("http.retry_delay"),
			PageSize:   v.GetInt("http.page_size"),
		},
		Mail: Mail{
			TenantID:     v.GetString("mail.tenant_id"),
			ClientID:     v.GetString("mail.client_id"),
			ClientSecret: v.GetString("mail.client_secret"),
			Sender:       v.GetString("mail.sender"),
			Recipients:   v.GetStringSlice("mail.recipients"),
		},
	}
	cfg.Restore.Workers = v.GetInt("restore.workers")
	cfg.Backup.Workers = v.GetInt("backup.workers")
	cfg.Backup.Dir = v.GetString("backup.dir")
	return cfg, nil
}

// RequireSource validates the fields backup and report need.
func (c *Config) RequireSource() error {
	return requireInstance("source", c.Source)
}

// RequireTarget validates the fields restore needs.
func (c *Config) RequireTarget() error {
	return requireInstance("target", c.Target)
}

func requireInstance(name string, inst Instance) error {
	if inst.URL == "" {
		return fmt.Errorf("%s.url is required (set it in the config file or OPMIGRATE_%s_URL)", name, strings.ToUpper(name))
	}
	if inst.APIKey == "" {
		return fmt.Errorf("%s.api_key is required (set it in the config file or OPMIGRATE_%s_API_KEY)", name, strings.ToUpper(name))
	}
	return nil
}
