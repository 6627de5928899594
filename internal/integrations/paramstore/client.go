package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameters(ctx context.Context, in *ssm.DeleteParametersInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParametersOutput, error)
}

// ErrNotFound is returned by GetParameter when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// Client wraps an AWS SSM API for parameter retrieval and storage.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// PutParameter creates or overwrites name. Secure values are stored as
// SecureString and encrypted with the account's default KMS key.
func (c *Client) PutParameter(ctx context.Context, name, value string, secure bool) error {
	if c.api == nil {
		return errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("paramstore: name is required")
	}
	paramType := types.ParameterTypeString
	if secure {
		paramType = types.ParameterTypeSecureString
	}
	_, err := c.api.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("paramstore: put parameter %q: %w", name, err)
	}
	return nil
}

// DeleteParameters removes names. Names that do not exist are ignored.
func (c *Client) DeleteParameters(ctx context.Context, names ...string) error {
	if c.api == nil {
		return errors.New("paramstore: client not initialized")
	}
	if len(names) == 0 {
		return nil
	}
	if _, err := c.api.DeleteParameters(ctx, &ssm.DeleteParametersInput{Names: names}); err != nil {
		return fmt.Errorf("paramstore: delete parameters: %w", err)
	}
	return nil
}
