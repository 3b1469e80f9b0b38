package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
)

type fakeSecrets struct {
	secretsmanageriface.SecretsManagerAPI
	values map[string]string
}

func (f *fakeSecrets) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.StringValue(in.SecretId)]
	if !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "not found", nil)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestCredentials(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{
		"direct":     `{"host":"db.example.com","port":5440,"dbName":"dev","username":"loader","password":"pw"}`,
		"serverless": `{"dbClusterIdentifier":"wg","port":"5439","dbName":"dev","username":"loader","password":"pw"}`,
		"no-port":    `{"host":"db","dbName":"dev","username":"u","password":"p"}`,
		"bad-port":   `{"host":"db","port":"abc","dbName":"dev","username":"u","password":"p"}`,
		"no-pass":    `{"host":"db","dbName":"dev","username":"u"}`,
		"no-host":    `{"dbName":"dev","username":"u","password":"p"}`,
		"not-json":   `nope`,
		"empty":      ``,
	}}
	client := New(fake, ".123.us-west-2.redshift-serverless.amazonaws.com")

	t.Run("explicit host", func(t *testing.T) {
		creds, err := client.Credentials(context.Background(), "direct")
		if err != nil {
			t.Fatal(err)
		}
		want := Credentials{Host: "db.example.com", Port: 5440, Database: "dev", User: "loader", Password: "pw"}
		if creds != want {
			t.Fatalf("expected %+v, got %+v", want, creds)
		}
	})

	t.Run("cluster identifier", func(t *testing.T) {
		creds, err := client.Credentials(context.Background(), "serverless")
		if err != nil {
			t.Fatal(err)
		}
		if creds.Host != "wg.123.us-west-2.redshift-serverless.amazonaws.com" || creds.Port != 5439 {
			t.Fatalf("unexpected credentials %+v", creds)
		}
	})

	t.Run("default port", func(t *testing.T) {
		creds, err := client.Credentials(context.Background(), "no-port")
		if err != nil {
			t.Fatal(err)
		}
		if creds.Port != 5439 {
			t.Fatalf("expected default port, got %d", creds.Port)
		}
	})

	errorCases := []struct {
		name string
		want error
	}{
		{"bad-port", ErrInvalidPort},
		{"no-pass", ErrMissingField},
		{"no-host", ErrHostRequired},
		{"empty", ErrSecretEmpty},
		{"not-json", loaderr.ErrCredential},
		{"missing", loaderr.ErrCredential},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Credentials(context.Background(), tt.name)
			if !errors.Is(err, tt.want) || !errors.Is(err, loaderr.ErrCredential) {
				t.Fatalf("expected %v credential error, got %v", tt.want, err)
			}
		})
	}
}

func TestCopyRole(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{
		"IamRole": `{"iam_role_copy_command_access":"  arn:aws:iam::123:role/copy \n"}`,
		"other":   `{"role":"x"}`,
	}}
	client := New(fake, "")

	role, err := client.CopyRole(context.Background(), "IamRole")
	if err != nil {
		t.Fatal(err)
	}
	if role != "arn:aws:iam::123:role/copy" {
		t.Fatalf("expected trimmed role, got %q", role)
	}

	if _, err := client.CopyRole(context.Background(), "other"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}
