package gmail

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ScopeGmailSend authorizes sending mail on behalf of the impersonated
// mailbox.
const ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"

const (
	// assertionLifetime is the exact exp-iat window of every signed
	// assertion. Google rejects anything over one hour.
	assertionLifetime = 3600 * time.Second

	// tokenExpiryBuffer forces a refresh slightly before the cached
	// token's real expiry.
	tokenExpiryBuffer = 5 * time.Minute

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// CredentialError reports a failure to obtain a delegated access token:
// an unparsable key, a signing failure, or a rejected token exchange.
// The token endpoint's response body is logged server-side, never carried
// in Message, so it cannot leak to webhook callers.
type CredentialError struct {
	// Op is the step that failed: "parse_key", "sign", or "exchange".
	Op string
	// StatusCode is set when the token endpoint answered with non-2xx.
	StatusCode int
	Message    string
	Err        error
}

func (e *CredentialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credential %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("credential %s: %s", e.Op, e.Message)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ServiceAccount identifies the signer and the mailbox it impersonates.
type ServiceAccount struct {
	// Email is the service account address, used as the assertion issuer.
	Email string
	// PrivateKeyPEM is the PKCS#8 (or PKCS#1) RSA signing key.
	PrivateKeyPEM string
	// Subject is the mailbox to impersonate via domain-wide delegation.
	// Mail sent with the resulting token originates "as" this mailbox
	// without the broker ever holding its password.
	Subject string
}

// ParsePrivateKey extracts the RSA key from a PEM-encoded service account
// key.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, &CredentialError{Op: "parse_key", Message: "no PEM block found in private key"}
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, &CredentialError{Op: "parse_key", Message: "private key is not RSA"}
		}
		return rsaKey, nil
	}

	// Older keys are distributed in PKCS#1.
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, &CredentialError{Op: "parse_key", Message: "unsupported private key format", Err: err}
	}
	return key, nil
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenBroker exchanges a signed JWT-bearer assertion for a short-lived
// delegated access token. Tokens are cached keyed by (issuer, subject,
// scope) and reissued only when expired or near expiry.
type TokenBroker struct {
	mu       sync.RWMutex
	account  ServiceAccount
	key      *rsa.PrivateKey
	tokenURL string
	client   HTTPClient
	log      zerolog.Logger
	now      func() time.Time

	tokens map[string]cachedToken
}

// NewTokenBroker creates a broker for the given service account. It fails
// if the account's private key cannot be parsed.
func NewTokenBroker(account ServiceAccount, tokenURL string, client HTTPClient, log zerolog.Logger) (*TokenBroker, error) {
	key, err := ParsePrivateKey(account.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &TokenBroker{
		account:  account,
		key:      key,
		tokenURL: tokenURL,
		client:   client,
		log:      log,
		now:      time.Now,
		tokens:   make(map[string]cachedToken),
	}, nil
}

// Token returns a valid access token for the given scopes, refreshing if
// the cached one is expired or about to expire.
func (b *TokenBroker) Token(ctx context.Context, scopes []string) (string, error) {
	key := b.cacheKey(scopes)

	b.mu.RLock()
	if cached, ok := b.tokens[key]; ok && b.now().Before(cached.expiresAt.Add(-tokenExpiryBuffer)) {
		token := cached.accessToken
		b.mu.RUnlock()
		return token, nil
	}
	b.mu.RUnlock()

	return b.refreshToken(ctx, key, scopes)
}

// InvalidateToken clears the cached token for the given scopes, forcing a
// fresh exchange on the next call.
func (b *TokenBroker) InvalidateToken(scopes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, b.cacheKey(scopes))
}

func (b *TokenBroker) cacheKey(scopes []string) string {
	return b.account.Email + "|" + b.account.Subject + "|" + strings.Join(scopes, " ")
}

func (b *TokenBroker) refreshToken(ctx context.Context, key string, scopes []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := b.tokens[key]; ok && b.now().Before(cached.expiresAt.Add(-tokenExpiryBuffer)) {
		return cached.accessToken, nil
	}

	assertion, err := b.signAssertion(scopes)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	resp, err := b.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    b.tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return "", &CredentialError{Op: "exchange", Message: "token request failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The endpoint's error body can name the account and scopes;
		// keep it in the server log only.
		b.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(resp.Body)).
			Str("issuer", b.account.Email).
			Msg("token exchange rejected")
		return "", &CredentialError{Op: "exchange", StatusCode: resp.StatusCode, Message: "token endpoint rejected assertion"}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return "", &CredentialError{Op: "exchange", Message: "parse token response", Err: err}
	}
	if tokenResp.AccessToken == "" {
		return "", &CredentialError{Op: "exchange", Message: "empty access token in response"}
	}

	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn == 0 {
		expiresIn = assertionLifetime
	}

	b.tokens[key] = cachedToken{
		accessToken: tokenResp.AccessToken,
		expiresAt:   b.now().Add(expiresIn),
	}

	return tokenResp.AccessToken, nil
}

// assertionClaims extends the registered claim set with the space-joined
// scope claim Google's token endpoint expects.
type assertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// signAssertion builds and signs the RS256 JWT-bearer assertion. The sub
// claim names the impersonated mailbox, not the signer; that asymmetry is
// the domain-wide delegation pattern.
func (b *TokenBroker) signAssertion(scopes []string) (string, error) {
	now := b.now()
	claims := assertionClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.account.Email,
			Subject:   b.account.Subject,
			Audience:  jwt.ClaimStrings{b.tokenURL},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(b.key)
	if err != nil {
		return "", &CredentialError{Op: "sign", Message: "sign assertion", Err: err}
	}
	return signed, nil
}

// IsCredentialError reports whether err is a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
