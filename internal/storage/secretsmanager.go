package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the token store.
type SecretsManagerAPI interface {
	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// TokenStore keeps the Salesforce OAuth refresh token in AWS Secrets Manager.
type TokenStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// now returns the current time for the updated_at stamp.
	now func() time.Time

	// secretARN is the ARN of the secret storing the refresh token.
	secretARN string
}

// RefreshToken returns the current refresh token from Secrets Manager.
func (t *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	secret, err := t.secret(ctx)
	if err != nil {
		return "", err
	}

	token := parseRefreshToken(secret)
	if token == "" {
		return "", errors.New("secret does not contain a refresh token")
	}

	return token, nil
}

// SaveRefreshToken stores a rotated refresh token, preserving the other keys of a JSON secret.
func (t *TokenStore) SaveRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	secret, err := t.secret(ctx)
	if err != nil {
		return err
	}

	value := token
	if isDocument(secret) {
		value, err = encodeRefreshToken(secret, token, t.now())
		if err != nil {
			return err
		}
	}

	_, err = t.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(t.secretARN),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	return nil
}

func (t *TokenStore) secret(ctx context.Context) (string, error) {
	output, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil {
		return "", errors.New("secret has no string value")
	}

	return *output.SecretString, nil
}

// NewTokenStore creates a new Secrets Manager-backed token store.
func NewTokenStore(client SecretsManagerAPI, secretARN string) (*TokenStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if secretARN == "" {
		return nil, errors.New("secret ARN is required")
	}

	return &TokenStore{
		client:    client,
		now:       time.Now,
		secretARN: secretARN,
	}, nil
}
