package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/config"
	"github.com/peteski22/sfbridge/internal/contact"
	"github.com/peteski22/sfbridge/internal/salesforce"
	"github.com/peteski22/sfbridge/internal/storage"
	"github.com/peteski22/sfbridge/internal/sync"
)

// app is a fully wired sync service.
type app struct {
	ledger  *storage.JobLedger
	service *sync.Service
}

// engine holds the collaborators a sync service is built from.
type engine struct {
	// API drives bulk jobs.
	API bulk.BulkAPI

	// Aborter aborts stale jobs. Optional.
	Aborter sync.JobAborter

	// DryRun marks results as dry-run and skips state writes.
	DryRun bool

	// Logger is the structured logger.
	Logger *slog.Logger

	// PendingJobs lists jobs left pending by earlier invocations. Optional.
	PendingJobs sync.PendingJobs

	// Recorder persists job outcomes. Optional.
	Recorder bulk.JobRecorder

	// Records writes single records.
	Records bulk.RecordClient

	// State persists the last sync time.
	State sync.StateStore

	// Sync holds engine defaults and tuning.
	Sync config.Sync

	// Tracker registers in-flight jobs. Optional.
	Tracker bulk.JobTracker
}

// newAWSApp wires the service against Salesforce with the last sync time in SSM, the refresh token
// in Secrets Manager, and in-flight jobs and job outcomes in DynamoDB.
func newAWSApp(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*app, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	tokenStore, err := storage.NewTokenStore(
		secretsmanager.NewFromConfig(awsCfg),
		settings.Salesforce.RefreshTokenSecretARN,
	)
	if err != nil {
		return nil, fmt.Errorf("creating token store: %w", err)
	}

	stateStore, err := storage.NewStateStore(ssm.NewFromConfig(awsCfg), settings.SSM.ParameterName)
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	pendingJobs, err := storage.NewPendingJobStore(dynamoClient, settings.DynamoDB.PendingTableName)
	if err != nil {
		return nil, fmt.Errorf("creating pending job store: %w", err)
	}

	ledger, err := storage.NewJobLedger(
		dynamoClient,
		settings.DynamoDB.TableName,
		settings.DynamoDB.IndexName,
	)
	if err != nil {
		return nil, fmt.Errorf("creating job ledger: %w", err)
	}

	client, err := newSalesforceClient(settings.Salesforce, tokenStore)
	if err != nil {
		return nil, err
	}

	service, err := newService(engine{
		API:         client,
		Aborter:     client,
		Logger:      logger,
		PendingJobs: pendingJobs,
		Recorder:    ledger,
		Records:     client,
		State:       stateStore,
		Sync:        settings.Sync,
		Tracker:     pendingJobs,
	})
	if err != nil {
		return nil, err
	}

	return &app{ledger: ledger, service: service}, nil
}

// newSalesforceClient creates a Salesforce client from connected app settings.
func newSalesforceClient(sf config.Salesforce, tokens salesforce.TokenStore) (*salesforce.Client, error) {
	opts := []salesforce.Option{
		salesforce.WithAPIVersion(sf.APIVersion),
		salesforce.WithLoginURL(sf.LoginURL),
	}
	if sf.InstanceURL != "" {
		opts = append(opts, salesforce.WithBaseURL(sf.InstanceURL))
	}

	client, err := salesforce.NewClient(salesforce.Config{
		ClientID:     sf.ClientID,
		ClientSecret: sf.ClientSecret,
		TokenStore:   tokens,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Salesforce client: %w", err)
	}

	return client, nil
}

// newService builds the bulk engine and the sync service around it.
func newService(e engine) (*sync.Service, error) {
	observers := bulk.Observers{bulk.NewSlogObserver(e.Logger, e.Sync.AdvancedLogging)}
	if e.Tracker != nil {
		observers = append(observers, bulk.NewTrackingObserver(e.Tracker, e.Logger))
	}

	manager, err := bulk.NewManager(bulk.ManagerConfig{
		API:            e.API,
		AbortOnTimeout: e.Sync.AbortOnTimeout,
		Logger:         e.Logger,
		Observer:       observers,
		Poll:           e.Sync.Poll,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bulk manager: %w", err)
	}

	dispatcher, err := bulk.New(bulk.Config{
		Logger:   e.Logger,
		Manager:  manager,
		Object:   contact.Object,
		Recorder: e.Recorder,
		Records:  e.Records,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	mapper, err := contact.NewMapper(contact.Config{
		DefaultRegion: e.Sync.PhoneRegion,
		Logger:        e.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating contact mapper: %w", err)
	}

	abortStale := e.Sync.AbortStaleJobs && e.Aborter != nil && e.PendingJobs != nil

	service, err := sync.New(sync.Config{
		AbortStaleJobs: abortStale,
		Aborter:        e.Aborter,
		Defaults: sync.Defaults{
			Batching:  e.Sync.Batching,
			Match:     e.Sync.Match,
			Operation: e.Sync.Operation,
		},
		Dispatcher:  dispatcher,
		DryRun:      e.DryRun,
		Logger:      e.Logger,
		Mapper:      mapper,
		PendingJobs: e.PendingJobs,
		StaleAfter:  e.Sync.Poll.MaxWait,
		StateStore:  e.State,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sync service: %w", err)
	}

	return service, nil
}
