package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/config"
)

const configHeader = `# sfbridge configuration
# String values may reference environment variables using dollar-brace syntax, with an
# optional default after a colon.

`

// templateConfig is the document written by init.
type templateConfig struct {
	Salesforce templateSalesforce `yaml:"salesforce"`
	Sync       templateSync       `yaml:"sync"`
}

type templateSalesforce struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	LoginURL     string `yaml:"login_url"`
	APIVersion   string `yaml:"api_version"`
	InstanceURL  string `yaml:"instance_url"`
}

type templateSync struct {
	Operation       string           `yaml:"operation"`
	Match           templateMatch    `yaml:"match"`
	Batching        templateBatching `yaml:"batching"`
	Poll            templatePoll     `yaml:"poll"`
	AbortOnTimeout  bool             `yaml:"abort_on_timeout"`
	AdvancedLogging bool             `yaml:"advanced_logging"`
	PhoneRegion     string           `yaml:"phone_region"`
}

type templateMatch struct {
	Kind     string   `yaml:"kind"`
	Field    string   `yaml:"field"`
	Fields   []string `yaml:"fields,flow"`
	Operator string   `yaml:"operator"`
}

type templateBatching struct {
	Enabled     bool `yaml:"enabled"`
	Size        int  `yaml:"size"`
	Concurrency int  `yaml:"concurrency"`
}

type templatePoll struct {
	Interval string `yaml:"interval"`
	MaxWait  string `yaml:"max_wait"`
}

// templateComments annotates keys of the rendered template, by dotted path.
var templateComments = map[string]string{
	"salesforce":                "# Salesforce connected app. Setup -> App Manager -> your app -> Manage Consumer Details.",
	"salesforce.client_secret":  "# Prefer an environment reference over a literal secret.",
	"salesforce.login_url":      "# Use https://test.salesforce.com for sandboxes.",
	"salesforce.instance_url":   "# Optional: pin API calls to an instance instead of the one returned at login.",
	"sync.operation":            "# Default operation: create, update, upsert or delete.",
	"sync.match":                "# How existing records are found: id, external_id or fields.",
	"sync.match.fields":         "# Lookup fields used when kind is fields, combined with operator (OR or AND).",
	"sync.match.operator":       "# OR matches any lookup field, AND requires all of them.",
	"sync.batching":             "# Bulk API delivery for requests with more than one event.",
	"sync.batching.size":        fmt.Sprintf("# Records per bulk job, at most %d.", bulk.MaxBatchSize),
	"sync.batching.concurrency": "# Bulk jobs run at once.",
	"sync.poll":                 "# How long to wait for a bulk job to finish.",
	"sync.abort_on_timeout":     "# Abort bulk jobs that outlive poll.max_wait.",
	"sync.advanced_logging":     "# Log every bulk job transition at info level.",
	"sync.phone_region":         "# Region assumed for phone numbers without a country code (default: US).",
}

// defaultTemplate returns the values written by init.
func defaultTemplate() templateConfig {
	return templateConfig{
		Salesforce: templateSalesforce{
			LoginURL:   "https://login.salesforce.com",
			APIVersion: "v62.0",
		},
		Sync: templateSync{
			Operation: string(bulk.OperationUpsert),
			Match: templateMatch{
				Kind:     string(bulk.MatchExternalID),
				Field:    "External_Id__c",
				Fields:   []string{"Email"},
				Operator: string(bulk.MatchOperatorOR),
			},
			Batching: templateBatching{
				Enabled:     true,
				Size:        bulk.MaxBatchSize,
				Concurrency: 1,
			},
			Poll: templatePoll{
				Interval: "5s",
				MaxWait:  "10m",
			},
		},
	}
}

// renderConfigTemplate renders the commented template document.
func renderConfigTemplate() (string, error) {
	var doc yaml.Node
	if err := doc.Encode(defaultTemplate()); err != nil {
		return "", fmt.Errorf("encoding template: %w", err)
	}
	annotate(&doc, "")

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}

	return configHeader + buf.String(), nil
}

// annotate attaches templateComments to the mapping keys under node.
func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if comment, ok := templateComments[path]; ok {
			key.HeadComment = comment
		}
		annotate(value, path)
	}
}

// runInit creates a sample configuration file.
func runInit() error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	content, err := renderConfigTemplate()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	fmt.Println("Created config file:", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config file with your connected app credentials")
	fmt.Println("  2. Run 'sfbridge auth' to authorize with Salesforce")
	fmt.Println("  3. Run 'sfbridge run -dry-run -file events.json' to test")
	fmt.Println()
	fmt.Printf("Token will be stored at: %s\n", tokenPath)

	return nil
}
