package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/sfbridge/internal/bulk"
)

type mockDynamoDBClient struct {
	getItemFunc func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	queryFunc   func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func (m *mockDynamoDBClient) GetItem(
	ctx context.Context,
	params *dynamodb.GetItemInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(
	ctx context.Context,
	params *dynamodb.PutItemInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(
	ctx context.Context,
	params *dynamodb.QueryInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func testJobRecord() bulk.JobRecord {
	return bulk.JobRecord{
		BatchOffset: 10000,
		BatchSize:   10000,
		Error:       "",
		FinishedAt:  time.Date(2026, 4, 2, 9, 15, 0, 0, time.UTC),
		JobID:       "7508d00000Ab1",
		Object:      "Contact",
		Operation:   bulk.OperationUpsert,
		RowsFailed:  3,
		RunID:       "run-1",
		State:       bulk.JobStateCompleted,
	}
}

func TestNewJobLedger(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    DynamoDBAPI
		errMsg    string
		indexName string
		tableName string
		wantErr   bool
	}{
		"valid inputs": {
			client:    &mockDynamoDBClient{},
			indexName: "RunIdIndex",
			tableName: "sfbridge-jobs",
		},
		"nil client": {
			indexName: "RunIdIndex",
			tableName: "sfbridge-jobs",
			wantErr:   true,
			errMsg:    "dynamodb client is required",
		},
		"empty table name": {
			client:    &mockDynamoDBClient{},
			indexName: "RunIdIndex",
			wantErr:   true,
			errMsg:    "table name is required",
		},
		"empty index name": {
			client:    &mockDynamoDBClient{},
			tableName: "sfbridge-jobs",
			wantErr:   true,
			errMsg:    "index name is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ledger, err := NewJobLedger(tc.client, tc.tableName, tc.indexName)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, ledger)
			} else {
				require.NoError(t, err)
				require.NotNil(t, ledger)
			}
		})
	}
}

func TestJobLedger_RecordJob(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		putErr   error
		record   func() bulk.JobRecord
		wantErr  string
		wantItem map[string]types.AttributeValue
	}{
		"stores every attribute": {
			record: testJobRecord,
			wantItem: map[string]types.AttributeValue{
				"job_id":       &types.AttributeValueMemberS{Value: "7508d00000Ab1"},
				"run_id":       &types.AttributeValueMemberS{Value: "run-1"},
				"object":       &types.AttributeValueMemberS{Value: "Contact"},
				"operation":    &types.AttributeValueMemberS{Value: "upsert"},
				"state":        &types.AttributeValueMemberS{Value: "Completed"},
				"batch_offset": &types.AttributeValueMemberN{Value: "10000"},
				"batch_size":   &types.AttributeValueMemberN{Value: "10000"},
				"rows_failed":  &types.AttributeValueMemberN{Value: "3"},
				"finished_at":  &types.AttributeValueMemberS{Value: "2026-04-02T09:15:00Z"},
			},
		},
		"stores the error when present": {
			record: func() bulk.JobRecord {
				r := testJobRecord()
				r.State = bulk.JobStateFailed
				r.Error = "InvalidBatch : Field name not found : Foo__c"
				return r
			},
		},
		"missing job ID": {
			record: func() bulk.JobRecord {
				r := testJobRecord()
				r.JobID = ""
				return r
			},
			wantErr: "job ID is required",
		},
		"missing run ID": {
			record: func() bulk.JobRecord {
				r := testJobRecord()
				r.RunID = ""
				return r
			},
			wantErr: "run ID is required",
		},
		"put failure": {
			record:  testJobRecord,
			putErr:  errors.New("provisioned throughput exceeded"),
			wantErr: "putting job record to DynamoDB",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var got *dynamodb.PutItemInput
			client := &mockDynamoDBClient{
				putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
					got = params
					return &dynamodb.PutItemOutput{}, tc.putErr
				},
			}
			ledger, err := NewJobLedger(client, "sfbridge-jobs", "RunIdIndex")
			require.NoError(t, err)

			record := tc.record()
			err = ledger.RecordJob(context.Background(), record)

			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "sfbridge-jobs", *got.TableName)
			if tc.wantItem != nil {
				require.Equal(t, tc.wantItem, got.Item)
			}
			if record.Error != "" {
				require.Equal(t, &types.AttributeValueMemberS{Value: record.Error}, got.Item["error"])
			} else {
				require.NotContains(t, got.Item, "error")
			}
		})
	}
}

func TestJobLedger_Job(t *testing.T) {
	t.Parallel()

	t.Run("round trips a recorded job", func(t *testing.T) {
		t.Parallel()

		var stored map[string]types.AttributeValue
		client := &mockDynamoDBClient{
			putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				stored = params.Item
				return &dynamodb.PutItemOutput{}, nil
			},
			getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				if params.Key["job_id"].(*types.AttributeValueMemberS).Value != "7508d00000Ab1" {
					return &dynamodb.GetItemOutput{}, nil
				}
				return &dynamodb.GetItemOutput{Item: stored}, nil
			},
		}
		ledger, err := NewJobLedger(client, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		require.NoError(t, ledger.RecordJob(context.Background(), testJobRecord()))

		got, ok, err := ledger.Job(context.Background(), "7508d00000Ab1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, testJobRecord(), got)

		_, ok, err = ledger.Job(context.Background(), "unknown")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("invalid stored number", func(t *testing.T) {
		t.Parallel()

		client := &mockDynamoDBClient{
			getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
					"job_id":      &types.AttributeValueMemberS{Value: "7501"},
					"rows_failed": &types.AttributeValueMemberN{Value: "many"},
				}}, nil
			},
		}
		ledger, err := NewJobLedger(client, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		_, _, err = ledger.Job(context.Background(), "7501")
		require.Error(t, err)
		require.Contains(t, err.Error(), "parsing rows_failed")
	})

	t.Run("empty job ID", func(t *testing.T) {
		t.Parallel()

		ledger, err := NewJobLedger(&mockDynamoDBClient{}, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		_, _, err = ledger.Job(context.Background(), "")
		require.Error(t, err)
	})
}

func TestJobLedger_JobsByRun(t *testing.T) {
	t.Parallel()

	item := func(jobID string, offset string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"job_id":       &types.AttributeValueMemberS{Value: jobID},
			"run_id":       &types.AttributeValueMemberS{Value: "run-1"},
			"batch_offset": &types.AttributeValueMemberN{Value: offset},
		}
	}

	t.Run("follows pagination and orders by offset", func(t *testing.T) {
		t.Parallel()

		var calls []*dynamodb.QueryInput
		client := &mockDynamoDBClient{
			queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
				snapshot := *params
				calls = append(calls, &snapshot)
				if params.ExclusiveStartKey == nil {
					return &dynamodb.QueryOutput{
						Items:            []map[string]types.AttributeValue{item("j3", "20000"), item("j1", "0")},
						LastEvaluatedKey: map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: "j1"}},
					}, nil
				}
				return &dynamodb.QueryOutput{
					Items: []map[string]types.AttributeValue{item("j2", "10000")},
				}, nil
			},
		}
		ledger, err := NewJobLedger(client, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		records, err := ledger.JobsByRun(context.Background(), "run-1")

		require.NoError(t, err)
		require.Len(t, calls, 2)
		require.Equal(t, "RunIdIndex", *calls[0].IndexName)
		require.Equal(t, "run_id = :rid", *calls[0].KeyConditionExpression)

		var ids []string
		for _, r := range records {
			ids = append(ids, r.JobID)
		}
		require.Equal(t, []string{"j1", "j2", "j3"}, ids)
	})

	t.Run("query failure", func(t *testing.T) {
		t.Parallel()

		client := &mockDynamoDBClient{
			queryFunc: func(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
				return nil, errors.New("index not found")
			},
		}
		ledger, err := NewJobLedger(client, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		_, err = ledger.JobsByRun(context.Background(), "run-1")
		require.Error(t, err)
		require.Contains(t, err.Error(), "querying DynamoDB")
	})

	t.Run("empty run ID", func(t *testing.T) {
		t.Parallel()

		ledger, err := NewJobLedger(&mockDynamoDBClient{}, "sfbridge-jobs", "RunIdIndex")
		require.NoError(t, err)

		_, err = ledger.JobsByRun(context.Background(), "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "run ID is required")
	})
}
