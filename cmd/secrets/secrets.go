// Package secrets fetches warehouse credentials and the COPY role from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-west-2"

// CopyRoleKey is the JSON key holding the COPY role ARN in the role secret.
const CopyRoleKey = "iam_role_copy_command_access"

// Error definitions
var (
	ErrSecretEmpty  = errors.New("secret has no string value")
	ErrMissingField = errors.New("secret is missing a required field")
	ErrInvalidPort  = errors.New("secret has an invalid port")
	ErrHostRequired = errors.New("secret has neither host nor dbClusterIdentifier with an endpoint suffix")
)

// Credentials are the warehouse connection parameters stored in a secret.
type Credentials struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

type credentialsSecret struct {
	Host              string      `json:"host"`
	ClusterIdentifier string      `json:"dbClusterIdentifier"`
	Port              json.Number `json:"port"`
	Database          string      `json:"dbName"`
	User              string      `json:"username"`
	Password          string      `json:"password"`
}

// Client reads secrets. All failures wrap loaderr.ErrCredential.
type Client struct {
	api            secretsmanageriface.SecretsManagerAPI
	endpointSuffix string
}

// New creates a Client. endpointSuffix completes a host from dbClusterIdentifier,
// e.g. "123456789012.us-west-2.redshift-serverless.amazonaws.com".
func New(api secretsmanageriface.SecretsManagerAPI, endpointSuffix string) *Client {
	return &Client{api: api, endpointSuffix: strings.TrimPrefix(endpointSuffix, ".")}
}

func (c *Client) fetch(ctx context.Context, name string) ([]byte, error) {
	out, err := c.api.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrCredential, err, "failed to fetch secret %s", name)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return nil, fmt.Errorf("%w: %w: %s", loaderr.ErrCredential, ErrSecretEmpty, name)
	}
	return []byte(*out.SecretString), nil
}

// Credentials fetches and parses the warehouse credentials secret.
func (c *Client) Credentials(ctx context.Context, name string) (Credentials, error) {
	data, err := c.fetch(ctx, name)
	if err != nil {
		return Credentials{}, err
	}

	var s credentialsSecret
	if err := json.Unmarshal(data, &s); err != nil {
		return Credentials{}, loaderr.Wrap(loaderr.ErrCredential, err, "failed to parse secret %s", name)
	}

	creds := Credentials{
		Host:     s.Host,
		Port:     5439,
		Database: s.Database,
		User:     s.User,
		Password: s.Password,
	}
	if creds.Host == "" {
		if s.ClusterIdentifier == "" || c.endpointSuffix == "" {
			return Credentials{}, fmt.Errorf("%w: %w: %s", loaderr.ErrCredential, ErrHostRequired, name)
		}
		creds.Host = s.ClusterIdentifier + "." + c.endpointSuffix
	}
	if s.Port != "" {
		port, err := strconv.Atoi(s.Port.String())
		if err != nil || port < 1 || port > 65535 {
			return Credentials{}, fmt.Errorf("%w: %w: %s", loaderr.ErrCredential, ErrInvalidPort, s.Port)
		}
		creds.Port = port
	}

	for field, value := range map[string]string{"dbName": creds.Database, "username": creds.User, "password": creds.Password} {
		if value == "" {
			return Credentials{}, fmt.Errorf("%w: %w: %s in %s", loaderr.ErrCredential, ErrMissingField, field, name)
		}
	}

	return creds, nil
}

// CopyRole fetches the IAM role ARN that COPY assumes to read the staged files.
func (c *Client) CopyRole(ctx context.Context, name string) (string, error) {
	data, err := c.fetch(ctx, name)
	if err != nil {
		return "", err
	}

	var s map[string]interface{}
	if err := json.Unmarshal(data, &s); err != nil {
		return "", loaderr.Wrap(loaderr.ErrCredential, err, "failed to parse secret %s", name)
	}
	role, _ := s[CopyRoleKey].(string)
	role = strings.TrimSpace(role)
	if role == "" {
		return "", fmt.Errorf("%w: %w: %s in %s", loaderr.ErrCredential, ErrMissingField, CopyRoleKey, name)
	}
	return role, nil
}
