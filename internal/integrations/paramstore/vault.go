package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Vault stores the client session under a parameter prefix: the token as a
// SecureString, the user record as a plain String.
type Vault struct {
	params *Client
	prefix string
}

func NewVault(params *Client, prefix string) (*Vault, error) {
	if params == nil {
		return nil, errors.New("paramstore: client must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	return &Vault{params: params, prefix: prefix}, nil
}

func (v *Vault) tokenName() string { return v.prefix + "/session/token" }
func (v *Vault) userName() string  { return v.prefix + "/session/user" }

func (v *Vault) LoadSession(ctx context.Context) (string, string, error) {
	token, err := v.optional(ctx, v.tokenName())
	if err != nil {
		return "", "", err
	}
	user, err := v.optional(ctx, v.userName())
	if err != nil {
		return "", "", err
	}
	return token, user, nil
}

// SaveSession writes both parameters. SSM has no multi-parameter write, so a
// failure on either one removes both to avoid pairing an old token with a new
// user record.
func (v *Vault) SaveSession(ctx context.Context, token, user string) error {
	if token == "" || user == "" {
		return errors.New("paramstore: token and user are required")
	}
	err := v.params.PutParameter(ctx, v.userName(), user, false)
	if err == nil {
		err = v.params.PutParameter(ctx, v.tokenName(), token, true)
	}
	if err != nil {
		if clearErr := v.ClearSession(ctx); clearErr != nil {
			return errors.Join(err, clearErr)
		}
		return err
	}
	return nil
}

func (v *Vault) ClearSession(ctx context.Context) error {
	return v.params.DeleteParameters(ctx, v.tokenName(), v.userName())
}

func (v *Vault) optional(ctx context.Context, name string) (string, error) {
	val, err := v.params.GetParameter(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("paramstore: load session: %w", err)
	}
	return val, nil
}
