package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI defines the SSM operations used by the state store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// StateStore keeps the time of the last successful sync in AWS SSM Parameter Store.
type StateStore struct {
	// client is the SSM API client.
	client SSMAPI

	// lastSyncParameterName is the SSM parameter name for last sync time.
	lastSyncParameterName string
}

// LastSyncTime returns the timestamp of the last successful sync.
func (s *StateStore) LastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := s.parameter(ctx, s.lastSyncParameterName)
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last sync time from SSM: %w", err)
	}
	if value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time from parameter: %w", err)
	}

	return t, nil
}

// SetLastSyncTime updates the last sync timestamp.
func (s *StateStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.put(ctx, s.lastSyncParameterName, t.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("putting last sync time to SSM: %w", err)
	}

	return nil
}

// parameter returns the value of name, or "" when the parameter does not exist.
func (s *StateStore) parameter(ctx context.Context, name string) (string, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return "", nil
		}
		return "", err
	}

	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", nil
	}

	return strings.TrimSpace(*output.Parameter.Value), nil
}

func (s *StateStore) put(ctx context.Context, name string, value string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(value),
	})

	return err
}

// NewStateStore creates a new SSM-backed state store.
func NewStateStore(client SSMAPI, lastSyncParameterName string) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	if lastSyncParameterName == "" {
		return nil, errors.New("parameter name is required")
	}

	return &StateStore{
		client:                client,
		lastSyncParameterName: lastSyncParameterName,
	}, nil
}
