package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// mockParameterGetter implements ParameterGetter for testing.
type mockParameterGetter struct {
	getFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *mockParameterGetter) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, params, optFns...)
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("param-value")}}, nil
}

// mockSecretValueGetter implements SecretValueGetter for testing.
type mockSecretValueGetter struct {
	getFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecretValueGetter) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, params, optFns...)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("secret-value")}, nil
}

func TestIsReference(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"/odoo/password", true},
		{"arn:aws:ssm:ap-southeast-2:123456789012:parameter/odoo/password", true},
		{"arn:aws:secretsmanager:ap-southeast-2:123456789012:secret:odoo-AbCdEf", true},
		{"hunter2", false},
		{"", false},
		{"pass/word", false},
	}
	for _, tt := range tests {
		if got := IsReference(tt.value); got != tt.want {
			t.Errorf("IsReference(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestResolve_ParameterNameUsesSSMWithDecryption(t *testing.T) {
	var captured *ssm.GetParameterInput
	params := &mockParameterGetter{
		getFunc: func(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			captured = in
			return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("s3cret")}}, nil
		},
	}
	secrets := &mockSecretValueGetter{
		getFunc: func(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			t.Error("secrets manager should not be called for a parameter name")
			return nil, errors.New("unexpected")
		},
	}

	got, err := NewAWSResolver(params, secrets).Resolve(context.Background(), "/odoo/password")
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("value = %q, want %q", got, "s3cret")
	}
	if captured == nil || aws.ToString(captured.Name) != "/odoo/password" {
		t.Fatalf("GetParameter input = %+v", captured)
	}
	if !aws.ToBool(captured.WithDecryption) {
		t.Error("WithDecryption should be true")
	}
}

func TestResolve_ParameterARNUsesSSM(t *testing.T) {
	called := false
	params := &mockParameterGetter{
		getFunc: func(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			called = true
			return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("v")}}, nil
		},
	}

	if _, err := NewAWSResolver(params, nil).Resolve(context.Background(), "arn:aws:ssm:us-east-1:123456789012:parameter/odoo"); err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if !called {
		t.Error("SSM was not called for a parameter ARN")
	}
}

func TestResolve_SecretsManagerARN(t *testing.T) {
	var captured *secretsmanager.GetSecretValueInput
	secrets := &mockSecretValueGetter{
		getFunc: func(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			captured = in
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("from-sm")}, nil
		},
	}
	arn := "arn:aws:secretsmanager:us-east-1:123456789012:secret:odoo-AbCdEf"

	got, err := NewAWSResolver(&mockParameterGetter{}, secrets).Resolve(context.Background(), arn)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got != "from-sm" {
		t.Errorf("value = %q, want %q", got, "from-sm")
	}
	if aws.ToString(captured.SecretId) != arn {
		t.Errorf("SecretId = %q, want %q", aws.ToString(captured.SecretId), arn)
	}
}

func TestResolve_MissingValue(t *testing.T) {
	params := &mockParameterGetter{
		getFunc: func(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{}, nil
		},
	}
	_, err := NewAWSResolver(params, nil).Resolve(context.Background(), "/odoo/password")
	if !errors.Is(err, ErrNoValue) {
		t.Errorf("error = %v, want ErrNoValue", err)
	}

	secrets := &mockSecretValueGetter{
		getFunc: func(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1}}, nil
		},
	}
	_, err = NewAWSResolver(nil, secrets).Resolve(context.Background(), "arn:aws:secretsmanager:us-east-1:1:secret:x")
	if !errors.Is(err, ErrNoValue) {
		t.Errorf("error = %v, want ErrNoValue", err)
	}
}

func TestResolve_PropagatesClientError(t *testing.T) {
	sentinel := errors.New("access denied")
	params := &mockParameterGetter{
		getFunc: func(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return nil, sentinel
		},
	}
	_, err := NewAWSResolver(params, nil).Resolve(context.Background(), "/odoo/password")
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want wrapped sentinel", err)
	}
}
