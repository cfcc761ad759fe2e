// Package secret resolves secret references held in configuration.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNoValue is returned when a referenced secret exists but carries no string value.
var ErrNoValue = errors.New("secret has no value")

// IsReference reports whether v names a secret rather than holding one:
// an SSM parameter name ("/...") or an ARN ("arn:...").
func IsReference(v string) bool {
	return strings.HasPrefix(v, "/") || strings.HasPrefix(v, "arn:")
}

// ParameterGetter abstracts SSM GetParameter for dependency inversion.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretValueGetter abstracts Secrets Manager GetSecretValue for dependency inversion.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSResolver resolves references against SSM Parameter Store, or Secrets
// Manager for secretsmanager ARNs.
type AWSResolver struct {
	parameters ParameterGetter
	secrets    SecretValueGetter
}

// NewAWSResolver creates a new AWSResolver.
func NewAWSResolver(parameters ParameterGetter, secrets SecretValueGetter) *AWSResolver {
	return &AWSResolver{
		parameters: parameters,
		secrets:    secrets,
	}
}

// NewAWSResolverFromConfig creates an AWSResolver with SDK clients built from cfg.
func NewAWSResolverFromConfig(cfg aws.Config) *AWSResolver {
	return NewAWSResolver(ssm.NewFromConfig(cfg), secretsmanager.NewFromConfig(cfg))
}

// Resolve returns the decrypted value behind ref.
func (r *AWSResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if isSecretsManagerARN(ref) {
		return r.secretValue(ctx, ref)
	}
	return r.parameter(ctx, ref)
}

func (r *AWSResolver) parameter(ctx context.Context, name string) (string, error) {
	if r.parameters == nil {
		return "", fmt.Errorf("no parameter store client for %s", name)
	}
	out, err := r.parameters.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s: %w", name, ErrNoValue)
	}
	return *out.Parameter.Value, nil
}

func (r *AWSResolver) secretValue(ctx context.Context, arn string) (string, error) {
	if r.secrets == nil {
		return "", fmt.Errorf("no secrets manager client for %s", arn)
	}
	out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", arn, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s: %w", arn, ErrNoValue)
	}
	return *out.SecretString, nil
}

// isSecretsManagerARN reports whether ref is arn:<partition>:secretsmanager:...
func isSecretsManagerARN(ref string) bool {
	parts := strings.SplitN(ref, ":", 4)
	return len(parts) == 4 && parts[0] == "arn" && parts[2] == "secretsmanager"
}
