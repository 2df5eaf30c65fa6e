package main

import "context"

type ctxKey int

const (
	tokenKey ctxKey = iota
	clientKey
	credentialKey
)

func withToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

func withCredential(ctx context.Context, c *Credential) context.Context {
	return context.WithValue(ctx, credentialKey, c)
}

// TokenFromContext returns the token attached by the bearer validator.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	t, ok := ctx.Value(tokenKey).(*Token)
	return t, ok && t != nil
}

// ClientFromContext returns the client attached by the basic validator.
func ClientFromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(clientKey).(*Client)
	return c, ok && c != nil
}

// CredentialFromContext returns the credential attached by the affiliation validator.
func CredentialFromContext(ctx context.Context) (*Credential, bool) {
	c, ok := ctx.Value(credentialKey).(*Credential)
	return c, ok && c != nil
}
