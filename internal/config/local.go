package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	uberconfig "go.uber.org/config"

	"github.com/peteski22/sfbridge/internal/bulk"
)

const (
	configDirName  = ".sfbridge"
	configFileName = "config.yaml"
	tokenFileName  = "token.json"
)

// LocalConfig holds configuration loaded from a local file.
type LocalConfig struct {
	Salesforce Salesforce
	Sync       Sync
}

// localSalesforce represents the salesforce section of the config file.
type localSalesforce struct {
	APIVersion   string `yaml:"api_version"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	InstanceURL  string `yaml:"instance_url"`
	LoginURL     string `yaml:"login_url"`
}

// localMatch represents the sync.match section of the config file.
type localMatch struct {
	Field    string   `yaml:"field"`
	Fields   []string `yaml:"fields"`
	Kind     string   `yaml:"kind"`
	Operator string   `yaml:"operator"`
}

// localBatching represents the sync.batching section of the config file.
type localBatching struct {
	Concurrency int  `yaml:"concurrency"`
	Enabled     bool `yaml:"enabled"`
	Size        int  `yaml:"size"`
}

// localPoll represents the sync.poll section of the config file.
type localPoll struct {
	Interval time.Duration `yaml:"interval"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// localSync represents the sync section of the config file.
type localSync struct {
	AbortOnTimeout  bool          `yaml:"abort_on_timeout"`
	AdvancedLogging bool          `yaml:"advanced_logging"`
	Batching        localBatching `yaml:"batching"`
	Match           localMatch    `yaml:"match"`
	Operation       string        `yaml:"operation"`
	PhoneRegion     string        `yaml:"phone_region"`
	Poll            localPoll     `yaml:"poll"`
}

// ConfigDir returns the sfbridge configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadLocal loads configuration from the local config file.
// Values may reference environment variables as ${NAME} or ${NAME:default}.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return loadLocalFile(configPath)
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// TokenFilePath returns the path to the local token file.
func TokenFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenFileName), nil
}

func loadLocalFile(configPath string) (*LocalConfig, error) {
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'sfbridge init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	provider, err := uberconfig.NewYAML(
		uberconfig.File(configPath),
		uberconfig.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	var sf localSalesforce
	if err := provider.Get("salesforce").Populate(&sf); err != nil {
		return nil, fmt.Errorf("parsing config file: salesforce: %w", err)
	}

	var sync localSync
	if err := provider.Get("sync").Populate(&sync); err != nil {
		return nil, fmt.Errorf("parsing config file: sync: %w", err)
	}

	cfg := &LocalConfig{
		Salesforce: Salesforce{
			APIVersion:   valueOrDefault(sf.APIVersion, defaultAPIVersion),
			ClientID:     sf.ClientID,
			ClientSecret: sf.ClientSecret,
			InstanceURL:  sf.InstanceURL,
			LoginURL:     valueOrDefault(sf.LoginURL, defaultLoginURL),
		},
		Sync: Sync{
			AbortOnTimeout:  sync.AbortOnTimeout,
			AdvancedLogging: sync.AdvancedLogging,
			Batching: bulk.BatchOptions{
				Concurrency: sync.Batching.Concurrency,
				Enabled:     sync.Batching.Enabled,
				Size:        sync.Batching.Size,
			},
			Match: bulk.MatchConfig{
				Field:    sync.Match.Field,
				Fields:   sync.Match.Fields,
				Kind:     bulk.MatchKind(sync.Match.Kind),
				Operator: bulk.MatchOperator(sync.Match.Operator),
			},
			Operation:   bulk.OperationKind(valueOrDefault(sync.Operation, string(bulk.OperationUpsert))),
			PhoneRegion: sync.PhoneRegion,
			Poll: bulk.PollPolicy{
				Interval: sync.Poll.Interval,
				MaxWait:  sync.Poll.MaxWait,
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	if c.Salesforce.ClientID == "" {
		errs = append(errs, errors.New("salesforce.client_id is required"))
	}
	if c.Salesforce.ClientSecret == "" {
		errs = append(errs, errors.New("salesforce.client_secret is required"))
	}
	if err := c.Sync.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func valueOrDefault(value string, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
