// Package config provides configuration loading from environment variables and a local file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peteski22/sfbridge/internal/bulk"
)

const (
	// EnvAbortOnTimeout aborts a bulk job whose poll budget runs out.
	EnvAbortOnTimeout = "ABORT_ON_TIMEOUT"

	// EnvAbortStaleJobs aborts bulk jobs left pending by earlier invocations.
	EnvAbortStaleJobs = "ABORT_STALE_JOBS"

	// EnvAdvancedLogging logs every bulk job transition at info level.
	EnvAdvancedLogging = "ADVANCED_LOGGING"

	// EnvBatchConcurrency is the number of bulk jobs run at once.
	EnvBatchConcurrency = "BATCH_CONCURRENCY"

	// EnvBatchSize is the maximum number of records per bulk job.
	EnvBatchSize = "BATCH_SIZE"

	// EnvBatchingEnabled selects the bulk path for multi-event requests.
	EnvBatchingEnabled = "BATCHING_ENABLED"

	// EnvDynamoDBIndexName is the DynamoDB Global Secondary Index for run ID queries.
	EnvDynamoDBIndexName = "DYNAMODB_INDEX_NAME"

	// EnvDynamoDBPendingTableName is the DynamoDB table holding one item per in-flight bulk job.
	EnvDynamoDBPendingTableName = "DYNAMODB_PENDING_TABLE_NAME"

	// EnvDynamoDBTableName is the DynamoDB table recording bulk job outcomes.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvLogFormat is the log output format, text or json.
	EnvLogFormat = "LOG_FORMAT"

	// EnvLogLevel is the minimum log level.
	EnvLogLevel = "LOG_LEVEL"

	// EnvMatchField is the external ID field used by external ID matching.
	EnvMatchField = "MATCH_FIELD"

	// EnvMatchFields is a comma-separated list of lookup fields used by field matching.
	EnvMatchFields = "MATCH_FIELDS"

	// EnvMatchKind selects the default record matching strategy.
	EnvMatchKind = "MATCH_KIND"

	// EnvMatchOperator combines lookup fields, OR or AND.
	EnvMatchOperator = "MATCH_OPERATOR"

	// EnvOperation is the default operation, one of create, update, upsert or delete.
	EnvOperation = "OPERATION"

	// EnvPhoneRegion is the region assumed for phone numbers without a country code.
	EnvPhoneRegion = "PHONE_DEFAULT_REGION"

	// EnvPollInterval is the delay between bulk job status reads.
	EnvPollInterval = "POLL_INTERVAL"

	// EnvPollMaxWait is the total time a bulk job is waited on.
	EnvPollMaxWait = "POLL_MAX_WAIT"

	// EnvSalesforceAPIVersion is the Salesforce REST API version.
	EnvSalesforceAPIVersion = "SALESFORCE_API_VERSION"

	// EnvSalesforceClientID is the OAuth client ID of the connected app.
	EnvSalesforceClientID = "SALESFORCE_CLIENT_ID"

	// EnvSalesforceClientSecret is the OAuth client secret of the connected app.
	EnvSalesforceClientSecret = "SALESFORCE_CLIENT_SECRET"

	// EnvSalesforceInstanceURL pins API calls to an instance URL instead of the one returned at login.
	EnvSalesforceInstanceURL = "SALESFORCE_INSTANCE_URL"

	// EnvSalesforceLoginURL is the OAuth login host.
	EnvSalesforceLoginURL = "SALESFORCE_LOGIN_URL"

	// EnvSalesforceRefreshTokenSecretARN is the Secrets Manager ARN for the refresh token.
	EnvSalesforceRefreshTokenSecretARN = "SALESFORCE_REFRESH_TOKEN_SECRET_ARN"

	// EnvSSMParameterName is the SSM parameter storing the last sync timestamp.
	EnvSSMParameterName = "SSM_PARAMETER_NAME"
)

const (
	defaultAPIVersion = "v62.0"
	defaultIndexName  = "RunIdIndex"
	defaultLoginURL   = "https://login.salesforce.com"
)

// Salesforce holds Salesforce connected app configuration.
type Salesforce struct {
	// APIVersion is the REST API version, e.g. v62.0.
	APIVersion string

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// InstanceURL optionally pins API calls to a fixed instance.
	InstanceURL string

	// LoginURL is the OAuth login host.
	LoginURL string

	// RefreshTokenSecretARN is the Secrets Manager ARN storing the OAuth refresh token.
	RefreshTokenSecretARN string
}

// Sync holds the engine defaults and tuning.
type Sync struct {
	// AbortOnTimeout aborts a bulk job whose poll budget runs out.
	AbortOnTimeout bool

	// AbortStaleJobs aborts bulk jobs left pending by earlier invocations.
	AbortStaleJobs bool

	// AdvancedLogging logs every bulk job transition at info level.
	AdvancedLogging bool

	// Batching is the default bulk delivery configuration.
	Batching bulk.BatchOptions

	// Match is the default record matching configuration.
	Match bulk.MatchConfig

	// Operation is the default operation.
	Operation bulk.OperationKind

	// PhoneRegion is the region assumed for phone numbers without a country code.
	PhoneRegion string

	// Poll bounds how long a bulk job is waited on.
	Poll bulk.PollPolicy
}

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// IndexName is the Global Secondary Index name for querying jobs by run ID.
	IndexName string

	// PendingTableName is the name of the DynamoDB table tracking in-flight bulk jobs.
	PendingTableName string

	// TableName is the name of the DynamoDB table recording bulk jobs.
	TableName string
}

// Logging holds log output configuration.
type Logging struct {
	// Format is text or json.
	Format string

	// Level is debug, info, warn or error.
	Level string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ParameterName is the SSM parameter storing the last sync timestamp.
	ParameterName string
}

// Settings holds all configuration for the application.
type Settings struct {
	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// Logging contains log output settings.
	Logging Logging

	// Salesforce contains Salesforce connected app settings.
	Salesforce Salesforce

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM

	// Sync contains engine defaults and tuning.
	Sync Sync
}

func (s *Settings) validate() error {
	var errs []error

	if s.Salesforce.ClientID == "" {
		errs = append(errs, requiredError(EnvSalesforceClientID))
	}
	if s.Salesforce.ClientSecret == "" {
		errs = append(errs, requiredError(EnvSalesforceClientSecret))
	}
	if s.Salesforce.RefreshTokenSecretARN == "" {
		errs = append(errs, requiredError(EnvSalesforceRefreshTokenSecretARN))
	}
	if s.DynamoDB.TableName == "" {
		errs = append(errs, requiredError(EnvDynamoDBTableName))
	}
	if s.DynamoDB.PendingTableName == "" {
		errs = append(errs, requiredError(EnvDynamoDBPendingTableName))
	}
	if s.SSM.ParameterName == "" {
		errs = append(errs, requiredError(EnvSSMParameterName))
	}
	if err := s.Sync.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Sync) validate() error {
	var errs []error

	if !s.Operation.Valid() {
		errs = append(errs, fmt.Errorf("operation must be one of create, update, upsert or delete, got %q", s.Operation))
	}
	switch s.Match.Kind {
	case bulk.MatchNone, bulk.MatchRecordID, bulk.MatchExternalID, bulk.MatchFields:
	default:
		errs = append(errs, fmt.Errorf("match kind must be one of id, external_id or fields, got %q", s.Match.Kind))
	}
	switch s.Match.Operator {
	case "", bulk.MatchOperatorOR, bulk.MatchOperatorAND:
	default:
		errs = append(errs, fmt.Errorf("match operator must be OR or AND, got %q", s.Match.Operator))
	}
	if s.Batching.Size < 0 || s.Batching.Size > bulk.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch size must be between 1 and %d", bulk.MaxBatchSize))
	}
	if s.Batching.Concurrency < 0 {
		errs = append(errs, errors.New("batch concurrency cannot be negative"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	p := &envParser{}

	cfg := &Settings{
		DynamoDB: DynamoDB{
			IndexName:        envOrDefault(EnvDynamoDBIndexName, defaultIndexName),
			PendingTableName: strings.TrimSpace(os.Getenv(EnvDynamoDBPendingTableName)),
			TableName:        strings.TrimSpace(os.Getenv(EnvDynamoDBTableName)),
		},
		Logging: Logging{
			Format: envOrDefault(EnvLogFormat, "json"),
			Level:  envOrDefault(EnvLogLevel, "info"),
		},
		Salesforce: Salesforce{
			APIVersion:            envOrDefault(EnvSalesforceAPIVersion, defaultAPIVersion),
			ClientID:              strings.TrimSpace(os.Getenv(EnvSalesforceClientID)),
			ClientSecret:          strings.TrimSpace(os.Getenv(EnvSalesforceClientSecret)),
			InstanceURL:           strings.TrimSpace(os.Getenv(EnvSalesforceInstanceURL)),
			LoginURL:              envOrDefault(EnvSalesforceLoginURL, defaultLoginURL),
			RefreshTokenSecretARN: strings.TrimSpace(os.Getenv(EnvSalesforceRefreshTokenSecretARN)),
		},
		SSM: SSM{
			ParameterName: strings.TrimSpace(os.Getenv(EnvSSMParameterName)),
		},
		Sync: Sync{
			AbortOnTimeout:  p.bool(EnvAbortOnTimeout),
			AbortStaleJobs:  p.bool(EnvAbortStaleJobs),
			AdvancedLogging: p.bool(EnvAdvancedLogging),
			Batching: bulk.BatchOptions{
				Concurrency: p.int(EnvBatchConcurrency),
				Enabled:     p.bool(EnvBatchingEnabled),
				Size:        p.int(EnvBatchSize),
			},
			Match: bulk.MatchConfig{
				Field:    strings.TrimSpace(os.Getenv(EnvMatchField)),
				Fields:   splitList(os.Getenv(EnvMatchFields)),
				Kind:     bulk.MatchKind(strings.TrimSpace(os.Getenv(EnvMatchKind))),
				Operator: bulk.MatchOperator(strings.ToUpper(strings.TrimSpace(os.Getenv(EnvMatchOperator)))),
			},
			Operation:   bulk.OperationKind(strings.ToLower(envOrDefault(EnvOperation, string(bulk.OperationUpsert)))),
			PhoneRegion: strings.TrimSpace(os.Getenv(EnvPhoneRegion)),
			Poll: bulk.PollPolicy{
				Interval: p.duration(EnvPollInterval),
				MaxWait:  p.duration(EnvPollMaxWait),
			},
		},
	}

	if err := errors.Join(p.err(), cfg.validate()); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envParser reads typed environment variables, collecting parse errors.
type envParser struct {
	errs []error
}

func (p *envParser) bool(key string) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, value))
	}
	return b
}

func (p *envParser) int(key string) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, value))
	}
	return n
}

func (p *envParser) duration(key string) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a positive duration, got %q", key, value))
	}
	return d
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
