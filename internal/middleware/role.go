package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/model"
)

// RequireRole admits callers holding one of roles. It must run after
// JWTAuth. The role comes from the token; handlers that change state
// reload it from storage.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal(c)
			if p == nil {
				return apperr.Unauthorized(apperr.ReasonInvalidToken, "authentication required")
			}
			if !allowed[p.Role] {
				return apperr.Forbidden(apperr.ReasonAccessDenied, "forbidden")
			}
			return next(c)
		}
	}
}

// RequireElevated admits the ticket back-office roles.
func RequireElevated() echo.MiddlewareFunc {
	var roles []model.Role
	for _, r := range model.Roles() {
		if r.Elevated() {
			roles = append(roles, r)
		}
	}
	return RequireRole(roles...)
}
