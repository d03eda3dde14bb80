package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/model"
)

// MinSecretLen is the shortest signing secret accepted at startup.
const MinSecretLen = 32

var ErrSecretTooShort = errors.New("jwt secret too short")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken is a long-lived opaque token. Raw goes to the client, only
// HashRefreshRaw(Raw) is stored.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// Claims is the payload of an access token.
type Claims struct {
	Email           string           `json:"email"`
	Name            string           `json:"name"`
	Role            model.Role       `json:"role"`
	EmailVerifiedAt *jwt.NumericDate `json:"email_verified_at,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts the claims into the caller identity.
func (c *Claims) Principal() model.Principal {
	p := model.Principal{
		UserID: c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Role:   c.Role,
	}
	if c.EmailVerifiedAt != nil {
		t := c.EmailVerifiedAt.Time
		p.EmailVerifiedAt = &t
	}
	return p
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now is the clock used for issuance and expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// TokenIssuer mints HS256 access tokens and opaque refresh tokens. Access
// tokens are verified by signature and expiry only, never looked up.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// IssueAccessToken builds and signs an access token for u.
func (i *TokenIssuer) IssueAccessToken(u model.User) (AccessToken, error) {
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)

	claims := Claims{
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   u.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if u.EmailVerifiedAt != nil {
		claims.EmailVerifiedAt = jwt.NewNumericDate(*u.EmailVerifiedAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return AccessToken{}, err
	}
	// NumericDate has second precision; report the expiry the token carries.
	return AccessToken{Token: signed, Exp: claims.ExpiresAt.Time}, nil
}

// IssueRefreshToken returns a fresh random refresh token. The caller
// persists its hash.
func (i *TokenIssuer) IssueRefreshToken() (RefreshToken, error) {
	raw, err := RandomHex(refreshTokenBytes)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: i.now().UTC().Add(i.refreshTTL)}, nil
}

// DecodeAccessToken verifies signature, issuer and expiry and returns the
// claims. Failures are Unauthorized with reason token_expired or
// invalid_token.
func (i *TokenIssuer) DecodeAccessToken(raw string) (*Claims, error) {
	return i.decode(raw,
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
}

// DecodeAccessTokenAllowExpired verifies only the signature. It is used by
// the refresh flow, where the access token has usually expired already and
// the refresh token is the actual proof.
func (i *TokenIssuer) DecodeAccessTokenAllowExpired(raw string) (*Claims, error) {
	return i.decode(raw, jwt.WithoutClaimsValidation())
}

func (i *TokenIssuer) decode(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	if raw == "" {
		return nil, apperr.Unauthorized(apperr.ReasonInvalidToken, "invalid access token")
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized(apperr.ReasonTokenExpired, "access token expired")
		}
		return nil, apperr.Unauthorized(apperr.ReasonInvalidToken, "invalid access token")
	}
	if !tok.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return nil, apperr.Unauthorized(apperr.ReasonInvalidToken, "invalid access token")
	}
	return claims, nil
}
