package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/require"
)

type mockSecretsManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

func (m *mockSecretsManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getSecretValueFunc(ctx, params, optFns...)
}

func (m *mockSecretsManagerAPI) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	return m.putSecretValueFunc(ctx, params, optFns...)
}

func secretValue(value string) func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
		return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
	}
}

func TestNewTokenStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    SecretsManagerAPI
		secretARN string
		wantErr   bool
		errMsg    string
	}{
		"valid inputs": {
			client:    &mockSecretsManagerAPI{},
			secretARN: "arn:aws:secretsmanager:eu-west-1:123456789012:secret:sfbridge",
		},
		"nil client": {
			secretARN: "arn:aws:secretsmanager:eu-west-1:123456789012:secret:sfbridge",
			wantErr:   true,
			errMsg:    "secrets manager client is required",
		},
		"empty ARN": {
			client:  &mockSecretsManagerAPI{},
			wantErr: true,
			errMsg:  "secret ARN is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTokenStore(tc.client, tc.secretARN)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestTokenStore_RefreshToken(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    *mockSecretsManagerAPI
		errMsg    string
		wantErr   bool
		wantToken string
	}{
		"bare token": {
			client:    &mockSecretsManagerAPI{getSecretValueFunc: secretValue("5Aep861bare\n")},
			wantToken: "5Aep861bare",
		},
		"JSON secret": {
			client:    &mockSecretsManagerAPI{getSecretValueFunc: secretValue(`{"client_id":"cid","refresh_token":"5Aep861json"}`)},
			wantToken: "5Aep861json",
		},
		"JSON secret without token": {
			client:  &mockSecretsManagerAPI{getSecretValueFunc: secretValue(`{"client_id":"cid"}`)},
			wantErr: true,
			errMsg:  "does not contain a refresh token",
		},
		"binary secret": {
			client: &mockSecretsManagerAPI{
				getSecretValueFunc: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{0x01}}, nil
				},
			},
			wantErr: true,
			errMsg:  "secret has no string value",
		},
		"API error": {
			client: &mockSecretsManagerAPI{
				getSecretValueFunc: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, errors.New("access denied")
				},
			},
			wantErr: true,
			errMsg:  "getting secret from Secrets Manager",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTokenStore(tc.client, "arn:test")
			require.NoError(t, err)

			token, err := store.RefreshToken(context.Background())

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantToken, token)
		})
	}
}

func TestTokenStore_SaveRefreshToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		current   string
		putErr    error
		token     string
		wantErr   string
		wantValue string
	}{
		"bare secret stays bare": {
			current:   "old-token",
			token:     "new-token",
			wantValue: "new-token",
		},
		"JSON secret keeps other keys": {
			current:   `{"client_id":"cid","refresh_token":"old-token"}`,
			token:     "new-token",
			wantValue: `{"client_id":"cid","refresh_token":"new-token","updated_at":"2026-05-01T08:00:00Z"}`,
		},
		"empty token": {
			current: "old-token",
			wantErr: "token cannot be empty",
		},
		"put failure": {
			current: "old-token",
			token:   "new-token",
			putErr:  errors.New("throttled"),
			wantErr: "putting secret to Secrets Manager",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var (
				gotARN   string
				gotValue string
			)
			client := &mockSecretsManagerAPI{
				getSecretValueFunc: secretValue(tc.current),
				putSecretValueFunc: func(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
					gotARN = *params.SecretId
					gotValue = *params.SecretString
					return &secretsmanager.PutSecretValueOutput{}, tc.putErr
				},
			}
			store, err := NewTokenStore(client, "arn:test")
			require.NoError(t, err)
			store.now = func() time.Time { return now }

			err = store.SaveRefreshToken(context.Background(), tc.token)

			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "arn:test", gotARN)
			if isDocument(tc.wantValue) {
				require.JSONEq(t, tc.wantValue, gotValue)
			} else {
				require.Equal(t, tc.wantValue, gotValue)
			}
		})
	}
}
