package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// PendingJobsAPI defines the DynamoDB operations used by the pending job store.
type PendingJobsAPI interface {
	// DeleteItem removes an item from DynamoDB.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Scan reads every item in a table.
	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)
}

// PendingJobStore keeps one DynamoDB item per bulk job that was created but has not reached a
// terminal state. Writers never read-modify-write, so concurrent invocations cannot drop entries.
type PendingJobStore struct {
	client    PendingJobsAPI
	now       func() time.Time
	tableName string
}

// NewPendingJobStore creates a new DynamoDB-backed pending job store.
func NewPendingJobStore(client PendingJobsAPI, tableName string) (*PendingJobStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &PendingJobStore{
		client:    client,
		now:       time.Now,
		tableName: tableName,
	}, nil
}

// AddPendingJob implements bulk.JobTracker. Adding a job that is already registered keeps its
// original creation time.
func (s *PendingJobStore) AddPendingJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job ID is required")
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"job_id":     &types.AttributeValueMemberS{Value: jobID},
			"created_at": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("putting pending job to DynamoDB: %w", err)
	}

	return nil
}

// RemovePendingJob implements bulk.JobTracker. Removing an unknown job is not an error.
func (s *PendingJobStore) RemovePendingJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job ID is required")
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       pendingJobKey(jobID),
	})
	if err != nil {
		return fmt.Errorf("deleting pending job from DynamoDB: %w", err)
	}

	return nil
}

// ClaimPendingJob removes jobID only if it is still registered, reporting whether this call
// removed it. Exactly one of several concurrent callers wins the claim.
func (s *PendingJobStore) ClaimPendingJob(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, errors.New("job ID is required")
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 pendingJobKey(jobID),
		ConditionExpression: aws.String("attribute_exists(job_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("claiming pending job in DynamoDB: %w", err)
	}

	return true, nil
}

// PendingJobs returns every registered job with its creation time.
func (s *PendingJobStore) PendingJobs(ctx context.Context) ([]bulk.PendingJob, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	}

	var jobs []bulk.PendingJob
	for {
		output, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning pending jobs in DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			job, err := parsePendingJob(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			jobs = append(jobs, job)
		}

		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	return jobs, nil
}

func pendingJobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

func parsePendingJob(item map[string]types.AttributeValue) (bulk.PendingJob, error) {
	id, ok := item["job_id"].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		return bulk.PendingJob{}, errors.New("missing job_id")
	}

	job := bulk.PendingJob{ID: id.Value}

	// Items without a creation time are treated as old enough to sweep.
	if v, ok := item["created_at"].(*types.AttributeValueMemberS); ok && v.Value != "" {
		t, err := time.Parse(time.RFC3339, v.Value)
		if err != nil {
			return job, fmt.Errorf("parsing created_at: %w", err)
		}
		job.CreatedAt = t
	}

	return job, nil
}
