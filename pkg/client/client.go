// Package client builds authorized HTTP clients for Google APIs from
// credentials supplied inline (raw or base64 JSON) or as files. Credentials
// are only loaded here; obtaining them is out of band.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Default credential paths.
const (
	ServiceAccountFile = "./expenses-agent.json"
	TokenFile          = "data/token.json"
	ClientSecretFile   = "data/client_secret.json"
)

// ErrNoCredentials is returned when neither inline nor file credentials exist.
var ErrNoCredentials = errors.New("no credentials provided")

// Decode returns raw as JSON bytes. raw may be JSON or base64-encoded JSON.
func Decode(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		if !json.Valid([]byte(raw)) {
			return nil, errors.New("credentials are not valid JSON")
		}
		return []byte(raw), nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(raw)
		if err == nil && json.Valid(b) {
			return b, nil
		}
	}
	return nil, errors.New("credentials are neither JSON nor base64-encoded JSON")
}

// Load returns inline credentials when set, otherwise the contents of file.
func Load(inline, file string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		b, err := Decode(inline)
		if err != nil {
			return nil, fmt.Errorf("decoding inline credentials: %w", err)
		}
		return b, nil
	}
	if file == "" {
		return nil, ErrNoCredentials
	}

	b, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found", ErrNoCredentials, file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	return b, nil
}

// ServiceAccount returns a client authorized as the service account in
// keyJSON.
func ServiceAccount(ctx context.Context, keyJSON []byte, scope ...string) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(keyJSON, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	return conf.Client(ctx), nil
}

// authorizedUser is the token file written by Google's client libraries. It
// embeds the OAuth client, so no client secret file is needed.
type authorizedUser struct {
	Token        string   `json:"token"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// UserToken returns a client authorized with a stored user token. tokenJSON is
// either an authorized-user file (with client_id and client_secret) or a bare
// oauth2 token, in which case clientSecretJSON supplies the OAuth client.
// Access tokens are refreshed from the refresh token as they expire.
func UserToken(ctx context.Context, tokenJSON, clientSecretJSON []byte, scope ...string) (*http.Client, error) {
	var au authorizedUser
	if err := json.Unmarshal(tokenJSON, &au); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	if au.ClientID != "" && au.ClientSecret != "" {
		conf := &oauth2.Config{
			ClientID:     au.ClientID,
			ClientSecret: au.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       scope,
		}
		if au.TokenURI != "" {
			conf.Endpoint.TokenURL = au.TokenURI
		}
		tok := &oauth2.Token{
			AccessToken:  au.Token,
			RefreshToken: au.RefreshToken,
			TokenType:    "Bearer",
		}
		if tok.AccessToken == "" {
			tok.AccessToken = au.AccessToken
		}
		if au.Expiry != "" {
			if exp, err := parseExpiry(au.Expiry); err == nil {
				tok.Expiry = exp
			}
		}
		return conf.Client(ctx, tok), nil
	}

	if len(clientSecretJSON) == 0 {
		return nil, fmt.Errorf("%w: token has no client_id and no client secret was given", ErrNoCredentials)
	}
	conf, err := google.ConfigFromJSON(clientSecretJSON, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(tokenJSON, tok); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	return conf.Client(ctx, tok), nil
}

func parseExpiry(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", s)
}
