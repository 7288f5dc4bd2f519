// Package secrets reads the New Relic user key from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrCredentialFetch is returned when the secret is missing, unreadable or
// does not carry an AccessKey field.
var ErrCredentialFetch = errors.New("credential fetch failed")

// Store returns the access key stored under a secret id.
type Store interface {
	GetAccessKey(ctx context.Context, secretID string) (string, error)
}

// SecretsManagerAPI is the subset of *secretsmanager.Client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager implements Store. The secret string is a JSON object:
//
//	{"AccessKey": "NRAK-..."}
type SecretsManager struct {
	api SecretsManagerAPI
}

func NewSecretsManager(api SecretsManagerAPI) *SecretsManager {
	return &SecretsManager{api: api}
}

var _ Store = (*SecretsManager)(nil)

type accessKeySecret struct {
	AccessKey string `json:"AccessKey"`
}

func (s *SecretsManager) GetAccessKey(ctx context.Context, secretID string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get secret %s: %w", ErrCredentialFetch, secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrCredentialFetch, secretID)
	}

	var secret accessKeySecret
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &secret); err != nil {
		return "", fmt.Errorf("%w: parse secret %s: %w", ErrCredentialFetch, secretID, err)
	}
	if secret.AccessKey == "" {
		return "", fmt.Errorf("%w: secret %s has no AccessKey field", ErrCredentialFetch, secretID)
	}
	return secret.AccessKey, nil
}
