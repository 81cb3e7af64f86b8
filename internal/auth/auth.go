// Package auth resolves bearer tokens to trade owners.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"tradejournal/pkg/journal"
)

// Verifier maps a bearer token to the owner id it authenticates.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

var errInvalidToken = journal.NewError(journal.ErrCodeUnauthorized, "invalid token")

// StaticTokens is a fixed token to owner table, used for single-user and
// development setups.
type StaticTokens map[string]string

func (s StaticTokens) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errInvalidToken
	}
	owner := ""
	for known, o := range s {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			owner = o
		}
	}
	if owner == "" {
		return "", errInvalidToken
	}
	return owner, nil
}

// tokenVerifier is the part of *fbauth.Client FirebaseVerifier needs.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens; the owner is the token's UID.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier initializes a Firebase app from a service account file.
func NewFirebaseVerifier(ctx context.Context, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (f *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errInvalidToken
	}
	tok, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", journal.WrapError(journal.ErrCodeUnauthorized, "invalid token", err)
	}
	if tok.UID == "" {
		return "", errInvalidToken
	}
	return tok.UID, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header. The
// access_token query parameter is accepted too, since browsers cannot set
// headers on websocket upgrades.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}

type ownerKey struct{}

// WithOwner returns a context carrying the authenticated owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}
