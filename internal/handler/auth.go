package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/middleware"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/service"
	"github.com/iliyamo/storefront-identity/internal/utils"
)

// requestTimeout bounds the store work of one request.
const requestTimeout = 5 * time.Second

// ExpiredTokenDecoder verifies an access token signature without checking
// its expiry. *utils.TokenIssuer implements it.
type ExpiredTokenDecoder interface {
	DecodeAccessTokenAllowExpired(raw string) (*utils.Claims, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	Tokens ExpiredTokenDecoder
}

func NewAuthHandler(auth *service.AuthService, tokens ExpiredTokenDecoder) *AuthHandler {
	return &AuthHandler{Auth: auth, Tokens: tokens}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // honored only for a signed-in actor allowed to assign it
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type verifyRequestReq struct {
	Email string `json:"email"`
}
type verifyReq struct {
	Token string `json:"token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    model.PublicUser `json:"user"`
	Access  tokenPart        `json:"access"`
	Refresh tokenPart        `json:"refresh"`
}
type userResp struct {
	User model.PublicUser `json:"user"`
}

func sessionResp(s service.Session) authResp {
	return authResp{
		User:    s.User,
		Access:  tokenPart{Token: s.Access.Token, Expires: s.Access.Exp},
		Refresh: tokenPart{Token: s.Refresh.Raw, Expires: s.Refresh.Exp},
	}
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// Register creates an unverified account. No tokens are returned; the
// user must verify the email and log in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Auth.Register(ctx, service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, middleware.Principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, userResp{User: u})
}

// Login returns a new token pair for a verified account.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperr.BadRequest(apperr.ReasonInvalidInput, "email/password required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sess, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Refresh rotates the refresh token. The caller presents its access token,
// expired or not, as a bearer token and the refresh token in the body.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw, ok := middleware.BearerToken(c)
	if !ok {
		return apperr.Unauthorized(apperr.ReasonInvalidToken, "missing bearer token")
	}
	claims, err := h.Tokens.DecodeAccessTokenAllowExpired(raw)
	if err != nil {
		return err
	}

	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		return apperr.BadRequest(apperr.ReasonInvalidInput, "refresh_token required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	sess, err := h.Auth.Refresh(ctx, claims.Principal(), refresh)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Logout revokes every refresh token of the caller.
func (h *AuthHandler) Logout(c echo.Context) error {
	p := middleware.Principal(c)
	if p == nil {
		return apperr.Unauthorized(apperr.ReasonInvalidToken, "authentication required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	h.Auth.Logout(ctx, p.UserID)
	return c.NoContent(http.StatusNoContent)
}

// RequestVerification always answers 202 so the response does not reveal
// whether the address is registered.
func (h *AuthHandler) RequestVerification(c echo.Context) error {
	var req verifyRequestReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if strings.TrimSpace(req.Email) == "" {
		return apperr.BadRequest(apperr.ReasonInvalidInput, "email required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Auth.RequestVerification(ctx, req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "sent if the account needs verification"})
}

// VerifyEmail consumes a verification token. The token may come in the
// body or as the "token" query parameter of a mailed link.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	token := req.Token
	if token == "" {
		token = c.QueryParam("token")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Auth.VerifyEmail(ctx, token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResp{User: u})
}

// Me returns the caller's current account.
func (h *AuthHandler) Me(c echo.Context) error {
	p := middleware.Principal(c)
	if p == nil {
		return apperr.Unauthorized(apperr.ReasonInvalidToken, "authentication required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Auth.Profile(ctx, p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResp{User: u})
}
