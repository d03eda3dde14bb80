package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/utils"
)

// principalKey is the echo context key of the authenticated caller.
const principalKey = "principal"

// TokenDecoder verifies access tokens. *utils.TokenIssuer implements it.
type TokenDecoder interface {
	DecodeAccessToken(raw string) (*utils.Claims, error)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, raw, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// JWTAuth rejects requests without a valid bearer access token and stores
// the decoded caller for handlers, see Principal.
func JWTAuth(tokens TokenDecoder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := BearerToken(c)
			if !ok {
				return apperr.Unauthorized(apperr.ReasonInvalidToken, "missing bearer token")
			}
			claims, err := tokens.DecodeAccessToken(raw)
			if err != nil {
				return err
			}
			p := claims.Principal()
			SetPrincipal(c, &p)
			return next(c)
		}
	}
}

// OptionalAuth lets anonymous requests through. A token that is present
// must still be valid.
func OptionalAuth(tokens TokenDecoder) echo.MiddlewareFunc {
	required := JWTAuth(tokens)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withAuth := required(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				return next(c)
			}
			return withAuth(c)
		}
	}
}

// SetPrincipal stores p as the caller of the request.
func SetPrincipal(c echo.Context, p *model.Principal) {
	c.Set(principalKey, p)
}

// Principal returns the caller stored by JWTAuth, or nil for anonymous
// requests.
func Principal(c echo.Context) *model.Principal {
	p, _ := c.Get(principalKey).(*model.Principal)
	return p
}
