package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type mockSSMClient struct {
	getParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	putParameterFunc func(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(
	ctx context.Context,
	params *ssm.GetParameterInput,
	optFns ...func(*ssm.Options),
) (*ssm.GetParameterOutput, error) {
	if m.getParameterFunc != nil {
		return m.getParameterFunc(ctx, params, optFns...)
	}
	return &ssm.GetParameterOutput{}, nil
}

func (m *mockSSMClient) PutParameter(
	ctx context.Context,
	params *ssm.PutParameterInput,
	optFns ...func(*ssm.Options),
) (*ssm.PutParameterOutput, error) {
	if m.putParameterFunc != nil {
		return m.putParameterFunc(ctx, params, optFns...)
	}
	return &ssm.PutParameterOutput{}, nil
}

// memorySSM is an in-memory parameter store.
type memorySSM struct {
	mu     sync.Mutex
	params map[string]string
}

func newMemorySSM(params map[string]string) *memorySSM {
	if params == nil {
		params = make(map[string]string)
	}
	return &memorySSM{params: params}
}

func (m *memorySSM) client() *mockSSMClient {
	return &mockSSMClient{
		getParameterFunc: func(_ context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			value, ok := m.params[*params.Name]
			if !ok {
				return nil, &types.ParameterNotFound{}
			}
			return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(value)}}, nil
		},
		putParameterFunc: func(_ context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.params[*params.Name] = *params.Value
			return &ssm.PutParameterOutput{}, nil
		},
	}
}

func (m *memorySSM) get(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[name]
}

func TestNewStateStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client        SSMAPI
		errMsg        string
		parameterName string
		wantErr       bool
	}{
		"valid inputs": {
			client:        &mockSSMClient{},
			parameterName: "/sfbridge/last-sync-time",
		},
		"nil client": {
			client:        nil,
			parameterName: "/app/last-sync",
			wantErr:       true,
			errMsg:        "ssm client is required",
		},
		"empty parameter name": {
			client:        &mockSSMClient{},
			parameterName: "",
			wantErr:       true,
			errMsg:        "parameter name is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewStateStore(tc.client, tc.parameterName)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.parameterName, store.lastSyncParameterName)
			}
		})
	}
}

func TestStateStore_LastSyncTime(t *testing.T) {
	t.Parallel()

	testTime := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := map[string]struct {
		client  *mockSSMClient
		errMsg  string
		want    time.Time
		wantErr bool
	}{
		"returns parsed time": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return &ssm.GetParameterOutput{
						Parameter: &types.Parameter{Value: aws.String(testTime.Format(time.RFC3339))},
					}, nil
				},
			},
			want: testTime,
		},
		"zero time when parameter not found": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return nil, &types.ParameterNotFound{}
				},
			},
		},
		"zero time when parameter is nil": {
			client: &mockSSMClient{},
		},
		"error on SSM failure": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return nil, errors.New("throttled")
				},
			},
			wantErr: true,
			errMsg:  "getting last sync time from SSM",
		},
		"error on invalid time": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("yesterday")}}, nil
				},
			},
			wantErr: true,
			errMsg:  "parsing time from parameter",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewStateStore(tc.client, "/sfbridge/last-sync-time")
			require.NoError(t, err)

			got, err := store.LastSyncTime(context.Background())

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got))
		})
	}
}

func TestStateStore_SetLastSyncTime(t *testing.T) {
	t.Parallel()

	mem := newMemorySSM(nil)
	store, err := NewStateStore(mem.client(), "/sfbridge/last-sync-time")
	require.NoError(t, err)

	at := time.Date(2026, 3, 15, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, store.SetLastSyncTime(context.Background(), at))
	require.Equal(t, "2026-03-15T11:00:00Z", mem.get("/sfbridge/last-sync-time"))

	got, err := store.LastSyncTime(context.Background())
	require.NoError(t, err)
	require.True(t, at.Equal(got))
}
