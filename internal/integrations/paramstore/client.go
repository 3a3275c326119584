// Package paramstore reads secrets from SSM Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

var (
	// ErrNotFound means the parameter does not exist. Callers treat it as
	// "not configured" rather than as an outage.
	ErrNotFound = errors.New("paramstore: parameter not found")
	// ErrEmptyToken means the stored payload decoded but carried no token.
	ErrEmptyToken = errors.New("paramstore: token is empty")
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the JSON shape of a stored API key: {"token":"..."}.
type tokenPayload struct {
	Token string `json:"token"`
}

type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Token reads a SecureString holding a token payload and returns the token.
func (c *Client) Token(ctx context.Context, name string) (string, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: decode token payload %q: %w", strings.TrimSpace(name), err)
	}
	token := strings.TrimSpace(tp.Token)
	if token == "" {
		return "", fmt.Errorf("paramstore: %q: %w", strings.TrimSpace(name), ErrEmptyToken)
	}
	return token, nil
}

// GetParameter returns the decrypted raw value of name.
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
	var nf *types.ParameterNotFound
	switch {
	case errors.As(err, &nf):
		return "", fmt.Errorf("paramstore: %q: %w", name, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("paramstore: get %q: %w", name, err)
	case out == nil || out.Parameter == nil || out.Parameter.Value == nil:
		return "", fmt.Errorf("paramstore: %q has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}
