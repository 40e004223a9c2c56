package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/oauth")

type AuthCodeRequest struct {
	AccessType  string
	Scope       string
	RedirectUri string
	ClientId    string
	// State is echoed back on the redirect. A random nonce is
	// generated when empty.
	State string
}

// GetLoginUrl builds the provider consent URL for the offline-access
// authorization code flow.
func GetLoginUrl(ctx context.Context, req AuthCodeRequest, baseLoginUrl string) (string, error) {
	ctx, span := tracer.Start(ctx, "GetLoginUrl")
	defer span.End()

	endpoint, err := url.Parse(baseLoginUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse base login url")
		return "", err
	}

	values := endpoint.Query()
	values.Add("client_id", req.ClientId)
	values.Add("access_type", req.AccessType)
	values.Add("scope", req.Scope)
	values.Add("redirect_uri", req.RedirectUri)

	state := req.State
	if state == "" {
		nonce := make([]byte, 16)
		_, err = rand.Read(nonce)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to generate 16 random bytes")
			return "", err
		}
		state = hex.EncodeToString(nonce)
	}
	values.Add("state", state)
	values.Add("response_type", "code")
	values.Add("prompt", "consent")

	span.SetAttributes(
		attribute.String("client_id", req.ClientId),
		attribute.String("scope", req.Scope),
		attribute.String("redirect_uri", req.RedirectUri),
		attribute.String("state", state),
	)

	endpoint.RawQuery = values.Encode()

	return endpoint.String(), nil
}

type OpenIdToken struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
	IdToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// ExchangeForm is the form body for trading an authorization code
// for an OpenIdToken at the provider's token endpoint.
func ExchangeForm(clientId, clientSecret, redirectUri, code string) url.Values {
	form := url.Values{}
	form.Add("grant_type", "authorization_code")
	form.Add("client_id", clientId)
	form.Add("client_secret", clientSecret)
	form.Add("redirect_uri", redirectUri)
	form.Add("code", code)
	return form
}

// RefreshForm is the form body for refreshing an access token.
func RefreshForm(clientId, clientSecret, refreshToken string) url.Values {
	form := url.Values{}
	form.Add("grant_type", "refresh_token")
	form.Add("client_id", clientId)
	form.Add("client_secret", clientSecret)
	form.Add("refresh_token", refreshToken)
	return form
}
