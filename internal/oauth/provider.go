// provider.go -- OAuth provider interface and shared types.
package oauth

import "context"

// Claims holds the normalized identity claims returned by a provider.
// All fields are verified server-side; never trust client-supplied values.
// Picture is a provider-hosted avatar URL; empty string means not provided.
type Claims struct {
	Sub           string // provider-specific stable user ID (e.g. Google "sub")
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Provider is a federated identity provider. Two entry points exist:
// VerifyIDToken serves SPA clients that obtained an ID token themselves,
// and AuthCodeURL/Exchange serve the server-driven authorization code flow.
// PKCE (RFC 7636) is required for the code flow: callers pass the
// code_challenge to AuthCodeURL and the matching code_verifier to Exchange.
type Provider interface {
	// Name returns the provider identifier stored in the audit log.
	Name() string

	// VerifyIDToken checks a raw ID token's signature, audience, and expiry
	// and returns its identity claims.
	VerifyIDToken(ctx context.Context, rawIDToken string) (*Claims, error)

	// AuthCodeURL returns the consent page URL with state and PKCE
	// code_challenge embedded.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange exchanges the authorization code for verified identity claims.
	// The code_verifier must match the code_challenge passed to AuthCodeURL.
	Exchange(ctx context.Context, code, codeVerifier string) (*Claims, error)
}
