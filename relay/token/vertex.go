package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/polygate/polygate/common/client"
	"github.com/polygate/polygate/model"
)

const (
	googleTokenEndpoint = "https://oauth2.googleapis.com/token"
	jwtBearerGrantType  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	cloudPlatformScope  = "https://www.googleapis.com/auth/cloud-platform"
	vertexTokenLifetime = time.Hour
)

// refreshVertexToken exchanges a service-account JWT assertion for an access
// token. The credential stores the service-account client_email in Email and
// the RSA private key PEM in RefreshToken.
func refreshVertexToken(ctx context.Context, credential *model.Credential) (string, int64, error) {
	assertion, err := buildVertexAssertion(credential.Email, credential.RefreshToken, time.Now())
	if err != nil {
		return "", 0, &RefreshError{Err: err}
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &RefreshError{Err: errors.Wrap(err, "build token request")}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", 0, &RefreshError{Err: errors.Wrap(err, "exchange jwt assertion")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &RefreshError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read token response")}
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, &RefreshError{
			StatusCode: resp.StatusCode,
			Err:        errors.Errorf("google token endpoint: %s", strings.TrimSpace(string(body))),
		}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, &RefreshError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode token response")}
	}
	if payload.AccessToken == "" {
		return "", 0, &RefreshError{StatusCode: resp.StatusCode, Err: errors.New("token response missing access_token")}
	}

	expiresAt := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second).UnixMilli()
	return payload.AccessToken, expiresAt, nil
}

// buildVertexAssertion signs the RS256 JWT-bearer assertion for the
// service account.
func buildVertexAssertion(clientEmail, privateKeyPEM string, now time.Time) (string, error) {
	if clientEmail == "" {
		return "", errors.New("vertex credential missing client_email")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", errors.Wrap(err, "parse service account private key")
	}

	claims := jwt.MapClaims{
		"iss":   clientEmail,
		"sub":   clientEmail,
		"aud":   googleTokenEndpoint,
		"iat":   now.Unix(),
		"exp":   now.Add(vertexTokenLifetime).Unix(),
		"scope": cloudPlatformScope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "sign jwt assertion")
	}
	return signed, nil
}

// DecodeJWTExpiry extracts the exp claim from a JWT without verifying the
// signature. Used for expiry tracking of tokens minted elsewhere.
func DecodeJWTExpiry(tokenString string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "parse jwt")
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, errors.New("jwt has no exp claim")
	}
	return expiry.Time, nil
}
