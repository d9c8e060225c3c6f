// Package storage provides persistence implementations for the sync service.
package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// JobLedger records the outcome of every bulk job in DynamoDB, keyed by job ID with a run ID index.
type JobLedger struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// indexName is the name of the run ID GSI.
	indexName string

	// tableName is the name of the DynamoDB table.
	tableName string
}

// RecordJob implements bulk.JobRecorder.
func (l *JobLedger) RecordJob(ctx context.Context, record bulk.JobRecord) error {
	if record.JobID == "" {
		return errors.New("job ID is required")
	}
	if record.RunID == "" {
		return errors.New("run ID is required")
	}

	item := map[string]types.AttributeValue{
		"job_id":       &types.AttributeValueMemberS{Value: record.JobID},
		"run_id":       &types.AttributeValueMemberS{Value: record.RunID},
		"object":       &types.AttributeValueMemberS{Value: record.Object},
		"operation":    &types.AttributeValueMemberS{Value: string(record.Operation)},
		"state":        &types.AttributeValueMemberS{Value: string(record.State)},
		"batch_offset": &types.AttributeValueMemberN{Value: strconv.Itoa(record.BatchOffset)},
		"batch_size":   &types.AttributeValueMemberN{Value: strconv.Itoa(record.BatchSize)},
		"rows_failed":  &types.AttributeValueMemberN{Value: strconv.Itoa(record.RowsFailed)},
		"finished_at":  &types.AttributeValueMemberS{Value: record.FinishedAt.UTC().Format(time.RFC3339)},
	}
	if record.Error != "" {
		item["error"] = &types.AttributeValueMemberS{Value: record.Error}
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting job record to DynamoDB: %w", err)
	}

	return nil
}

// Job returns the record for jobID, or false if the job was never recorded.
func (l *JobLedger) Job(ctx context.Context, jobID string) (bulk.JobRecord, bool, error) {
	if jobID == "" {
		return bulk.JobRecord{}, false, errors.New("job ID is required")
	}

	output, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return bulk.JobRecord{}, false, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return bulk.JobRecord{}, false, nil
	}

	record, err := parseJobRecord(output.Item)
	if err != nil {
		return bulk.JobRecord{}, false, fmt.Errorf("parsing item: %w", err)
	}

	return record, true, nil
}

// JobsByRun returns every job recorded for a dispatch run, ordered by batch offset.
func (l *JobLedger) JobsByRun(ctx context.Context, runID string) ([]bulk.JobRecord, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		IndexName:              aws.String(l.indexName),
		KeyConditionExpression: aws.String("run_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: runID},
		},
	}

	var records []bulk.JobRecord
	for {
		output, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			record, err := parseJobRecord(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			records = append(records, record)
		}

		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	slices.SortStableFunc(records, func(a, b bulk.JobRecord) int {
		return cmp.Compare(a.BatchOffset, b.BatchOffset)
	})

	return records, nil
}

func parseJobRecord(item map[string]types.AttributeValue) (bulk.JobRecord, error) {
	record := bulk.JobRecord{}

	str := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	record.JobID = str("job_id")
	record.RunID = str("run_id")
	record.Object = str("object")
	record.Operation = bulk.OperationKind(str("operation"))
	record.State = bulk.JobState(str("state"))
	record.Error = str("error")

	for key, dst := range map[string]*int{
		"batch_offset": &record.BatchOffset,
		"batch_size":   &record.BatchSize,
		"rows_failed":  &record.RowsFailed,
	} {
		v, ok := item[key].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return record, fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = n
	}

	if v := str("finished_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return record, fmt.Errorf("parsing finished_at: %w", err)
		}
		record.FinishedAt = t
	}

	return record, nil
}

// DynamoDBAPI defines the DynamoDB operations used by the ledger.
type DynamoDBAPI interface {
	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)
}

// NewJobLedger creates a new DynamoDB-backed job ledger.
func NewJobLedger(client DynamoDBAPI, tableName string, indexName string) (*JobLedger, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	if indexName == "" {
		return nil, errors.New("index name is required")
	}

	return &JobLedger{
		client:    client,
		indexName: indexName,
		tableName: tableName,
	}, nil
}
