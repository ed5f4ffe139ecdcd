package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used to fetch
// storage credentials.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type storageSecret struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// NewSecretsClient builds a Secrets Manager client from the default AWS
// credential chain.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// LoadStorageCredentials fills the storage access keys from the secret named
// by Storage.CredentialsSecret. It is a no-op when no secret is configured.
// The secret string must be a JSON object with access_key and secret_key.
func (c *AppConfig) LoadStorageCredentials(ctx context.Context, api SecretsAPI) error {
	name := c.Storage.CredentialsSecret
	if name == "" {
		return nil
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", name)
	}

	var s storageSecret
	if err := json.Unmarshal([]byte(*out.SecretString), &s); err != nil {
		return fmt.Errorf("decoding secret %s: %w", name, err)
	}
	if s.AccessKey == "" || s.SecretKey == "" {
		return fmt.Errorf("secret %s: access_key and secret_key are required", name)
	}

	c.Storage.AccessKey = s.AccessKey
	c.Storage.SecretKey = s.SecretKey
	return nil
}
