package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/metrics"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/repository"
	"github.com/iliyamo/storefront-identity/internal/utils"
)

// Password length bounds at registration. bcrypt rejects inputs over 72 bytes.
const (
	MinPasswordLen = 8
	MaxPasswordLen = 72
)

// AuthConfig configures AuthService.
type AuthConfig struct {
	VerificationTTL time.Duration
	// Now is the clock for expiry decisions. Defaults to time.Now.
	Now func() time.Time
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	// Role is honored only for authenticated actors allowed to assign it.
	Role string
}

// Session is an issued access and refresh token pair.
type Session struct {
	User    model.PublicUser
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// AuthService runs the register, login, refresh, logout and email
// verification flows.
//
// Verification lifecycle: a user starts unverified, receives a token, and
// becomes verified when a live token is confirmed. Verified is terminal.
//
// Sessions: login revokes every refresh record of the user, so at most one
// refresh chain is active. Refresh consumes the latest record with a
// conditional delete and creates exactly one new record.
type AuthService struct {
	store           CredentialStore
	tokens          *utils.TokenIssuer
	passwords       utils.SecretHasher
	refreshHashes   utils.SecretHasher
	mailer          VerificationMailer
	logger          *slog.Logger
	verificationTTL time.Duration
	now             func() time.Time

	// comparisonHash is verified against when no user matches an email so
	// unknown accounts cost as much as wrong passwords.
	comparisonHash string
}

// NewAuthService wires the auth flows. mailer may be nil, in which case
// verification tokens are stored but not sent.
func NewAuthService(store CredentialStore, tokens *utils.TokenIssuer, passwords utils.SecretHasher, mailer VerificationMailer, cfg AuthConfig, logger *slog.Logger) (*AuthService, error) {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = utils.DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	raw, err := utils.RandomHex(16)
	if err != nil {
		return nil, err
	}
	comparison, err := passwords.Hash(raw)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		store:           store,
		tokens:          tokens,
		passwords:       passwords,
		refreshHashes:   utils.DigestHasher{},
		mailer:          mailer,
		logger:          logging.OrDefault(logger),
		verificationTTL: cfg.VerificationTTL,
		now:             cfg.Now,
		comparisonHash:  comparison,
	}, nil
}

func record(op string, err error) {
	switch {
	case err == nil:
		metrics.RecordAuth(op, metrics.OutcomeSuccess)
	case apperr.KindOf(err) == apperr.KindInternal:
		metrics.RecordAuth(op, metrics.OutcomeError)
	case apperr.KindOf(err) == apperr.KindForbidden:
		metrics.RecordAuth(op, metrics.OutcomeDenied)
	default:
		metrics.RecordAuth(op, metrics.OutcomeFailure)
	}
}

func invalidInput(msg string) error {
	return apperr.BadRequest(apperr.ReasonInvalidInput, msg)
}

func normalizeAddress(raw string) (string, error) {
	email := repository.NormalizeEmail(raw)
	if email == "" {
		return "", invalidInput("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidInput("email is invalid")
	}
	return email, nil
}

// Register creates an unverified account and issues its first verification
// token. It never authenticates the new user.
//
// Anonymous callers always get the customer role. An authenticated actor
// may request another role; the actor's current role is reloaded from
// storage and must be allowed to assign it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, actor *model.Principal) (u model.PublicUser, err error) {
	defer func() { record("register", err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.PublicUser{}, invalidInput("name is required")
	}
	email, err := normalizeAddress(in.Email)
	if err != nil {
		return model.PublicUser{}, err
	}
	if len(in.Password) < MinPasswordLen {
		return model.PublicUser{}, invalidInput("password must be at least 8 characters")
	}
	if len(in.Password) > MaxPasswordLen {
		return model.PublicUser{}, invalidInput("password must be at most 72 bytes")
	}

	role, err := s.assignableRole(ctx, actor, in.Role)
	if err != nil {
		return model.PublicUser{}, err
	}

	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return model.PublicUser{}, apperr.Conflict(apperr.ReasonEmailTaken, "email already registered")
	} else if !isNotFound(err) {
		return model.PublicUser{}, storeErr("find user by email", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return model.PublicUser{}, storeErr("hash password", err)
	}

	now := s.now().UTC()
	user := model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.PublicUser{}, apperr.Conflict(apperr.ReasonEmailTaken, "email already registered")
		}
		return model.PublicUser{}, storeErr("create user", err)
	}

	// The account exists at this point; a failed token issue is recoverable
	// through RequestVerification.
	if err := s.issueVerification(ctx, user); err != nil {
		logging.LogError(ctx, s.logger, slog.LevelWarn, "issue verification after register failed", err,
			"operation", "register", "user_id", user.ID)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user.Public(), nil
}

func (s *AuthService) assignableRole(ctx context.Context, actor *model.Principal, requested string) (model.Role, error) {
	if actor == nil || strings.TrimSpace(requested) == "" {
		return model.RoleCustomer, nil
	}
	target, err := model.ParseRole(requested)
	if err != nil {
		return "", invalidInput("unknown role")
	}

	current, err := s.store.FindUserByID(ctx, actor.UserID)
	if err != nil {
		if isNotFound(err) {
			return "", apperr.Unauthorized(apperr.ReasonInvalidToken, "unknown account")
		}
		return "", storeErr("find actor", err)
	}
	if !current.Role.CanAssign(target) {
		return "", apperr.Forbidden(apperr.ReasonRoleNotAllowed, "not allowed to assign role "+target.String())
	}
	return target, nil
}

// Login authenticates email and password. Unknown email and wrong password
// fail identically. An unverified account is not authenticated; it gets a
// verification token if it has no live one.
func (s *AuthService) Login(ctx context.Context, email, password string) (sess Session, err error) {
	defer func() { record("login", err) }()

	invalid := apperr.Unauthorized(apperr.ReasonInvalidCredentials, "invalid credentials")

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return Session{}, storeErr("find user by email", err)
		}
		s.passwords.Verify(s.comparisonHash, password)
		return Session{}, invalid
	}
	if !s.passwords.Verify(user.PasswordHash, password) {
		return Session{}, invalid
	}

	if !user.Verified() {
		if err := s.ensureVerification(ctx, user); err != nil {
			return Session{}, err
		}
		return Session{}, apperr.Unauthorized(apperr.ReasonEmailNotVerified,
			"email not verified, check your inbox for the verification message")
	}

	if err := s.store.DeleteAllRefreshRecords(ctx, user.ID); err != nil {
		return Session{}, storeErr("revoke sessions", err)
	}
	sess, err = s.issueSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return sess, nil
}

// ensureVerification issues a token only when none is live.
func (s *AuthService) ensureVerification(ctx context.Context, user model.User) error {
	_, err := s.store.FindActiveVerificationRecord(ctx, user.ID, s.now().UTC())
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return storeErr("find active verification", err)
	}
	return s.issueVerification(ctx, user)
}

// Refresh rotates the caller's refresh token. The caller is identified by
// an access token whose signature verified; it may have expired. The
// account is reloaded so verification state is current.
func (s *AuthService) Refresh(ctx context.Context, caller model.Principal, raw string) (sess Session, err error) {
	defer func() { record("refresh", err) }()

	invalid := apperr.Unauthorized(apperr.ReasonRefreshInvalid, "invalid refresh token")

	user, err := s.store.FindUserByID(ctx, caller.UserID)
	if err != nil {
		if isNotFound(err) {
			return Session{}, invalid
		}
		return Session{}, storeErr("find user", err)
	}
	if !user.Verified() {
		return Session{}, apperr.Unauthorized(apperr.ReasonEmailNotVerified, "email not verified")
	}

	rec, err := s.store.FindLatestRefreshRecord(ctx, user.ID)
	if err != nil {
		if isNotFound(err) {
			return Session{}, invalid
		}
		return Session{}, storeErr("find refresh record", err)
	}

	if rec.ExpiredAt(s.now().UTC()) {
		if _, err := s.store.DeleteRefreshRecord(ctx, rec.ID); err != nil {
			logging.LogError(ctx, s.logger, slog.LevelWarn, "delete expired refresh record failed", err,
				"operation", "refresh", "user_id", user.ID)
		}
		return Session{}, apperr.Unauthorized(apperr.ReasonTokenExpired, "refresh token expired")
	}

	if raw == "" || !s.refreshHashes.Verify(rec.TokenHash, raw) {
		return Session{}, invalid
	}

	deleted, err := s.store.DeleteRefreshRecord(ctx, rec.ID)
	if err != nil {
		return Session{}, storeErr("consume refresh record", err)
	}
	if !deleted {
		// Another refresh consumed the same record first.
		return Session{}, invalid
	}

	return s.issueSession(ctx, user)
}

// Logout revokes every refresh record of the user. It never fails; a store
// error is logged.
func (s *AuthService) Logout(ctx context.Context, userID string) {
	err := s.store.DeleteAllRefreshRecords(ctx, userID)
	if err != nil {
		logging.LogError(ctx, s.logger, slog.LevelWarn, "logout failed to revoke sessions", err,
			"operation", "logout", "user_id", userID)
		metrics.RecordAuth("logout", metrics.OutcomeError)
		return
	}
	metrics.RecordAuth("logout", metrics.OutcomeSuccess)
}

// Profile returns the current account of userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (model.PublicUser, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return model.PublicUser{}, apperr.Unauthorized(apperr.ReasonInvalidToken, "unknown account")
		}
		return model.PublicUser{}, storeErr("find user", err)
	}
	return user.Public(), nil
}

// RequestVerification issues a fresh verification token for an unverified
// account. Unknown and already verified addresses are a silent no-op.
func (s *AuthService) RequestVerification(ctx context.Context, email string) (err error) {
	defer func() { record("verify_request", err) }()

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return storeErr("find user by email", err)
	}
	if user.Verified() {
		return nil
	}
	return s.issueVerification(ctx, user)
}

// VerifyEmail consumes a verification token and marks the owner verified.
// A token succeeds at most once.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (u model.PublicUser, err error) {
	defer func() { record("verify_email", err) }()

	invalid := apperr.BadRequest(apperr.ReasonInvalidToken, "invalid verification token")
	used := apperr.BadRequest(apperr.ReasonTokenUsed, "verification token already used")

	token = strings.TrimSpace(token)
	if token == "" {
		return model.PublicUser{}, invalid
	}

	rec, err := s.store.FindVerificationRecordByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return model.PublicUser{}, invalid
		}
		return model.PublicUser{}, storeErr("find verification record", err)
	}
	if rec.Used() {
		return model.PublicUser{}, used
	}

	now := s.now().UTC()
	if rec.ExpiredAt(now) {
		if err := s.store.DeleteVerificationRecord(ctx, rec.ID); err != nil {
			logging.LogError(ctx, s.logger, slog.LevelWarn, "delete expired verification record failed", err,
				"operation", "verify_email", "user_id", rec.UserID)
		}
		return model.PublicUser{}, apperr.BadRequest(apperr.ReasonTokenExpired, "verification token expired")
	}

	marked, err := s.store.MarkVerificationUsed(ctx, rec.ID, now)
	if err != nil {
		return model.PublicUser{}, storeErr("mark verification used", err)
	}
	if !marked {
		return model.PublicUser{}, used
	}

	user, err := s.store.FindUserByID(ctx, rec.UserID)
	if err != nil {
		if isNotFound(err) {
			return model.PublicUser{}, invalid
		}
		return model.PublicUser{}, storeErr("find user", err)
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}
	user.UpdatedAt = now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		// The token is already consumed; the user recovers by requesting a new one.
		logging.LogError(ctx, s.logger, slog.LevelWarn, "verification token consumed but user not verified", err,
			"operation", "verify_email", "user_id", user.ID)
		return model.PublicUser{}, storeErr("update user", err)
	}

	if err := s.store.DeleteOtherVerificationRecords(ctx, user.ID, rec.ID); err != nil {
		logging.LogError(ctx, s.logger, slog.LevelWarn, "delete other verification records failed", err,
			"operation", "verify_email", "user_id", user.ID)
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID)
	return user.Public(), nil
}

// issueVerification stores a new token, removes the user's other unused
// tokens and mails it. The mail is best-effort.
func (s *AuthService) issueVerification(ctx context.Context, user model.User) error {
	token, err := utils.NewVerificationToken()
	if err != nil {
		return storeErr("generate verification token", err)
	}
	now := s.now().UTC()
	rec := model.VerificationToken{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(s.verificationTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateVerificationRecord(ctx, rec); err != nil {
		return storeErr("create verification record", err)
	}
	if err := s.store.DeleteOtherVerificationRecords(ctx, user.ID, rec.ID); err != nil {
		return storeErr("delete other verification records", err)
	}

	if s.mailer != nil {
		if err := s.mailer.SendVerification(ctx, user.Email, user.Name, token); err != nil {
			logging.LogError(ctx, s.logger, slog.LevelWarn, "verification mail failed", err,
				"operation", "send_verification", "user_id", user.ID)
		}
	}
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, user model.User) (Session, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return Session{}, storeErr("issue access token", err)
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Session{}, storeErr("issue refresh token", err)
	}
	hash, err := s.refreshHashes.Hash(refresh.Raw)
	if err != nil {
		return Session{}, storeErr("hash refresh token", err)
	}

	rec := model.RefreshToken{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: refresh.Exp,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateRefreshRecord(ctx, rec); err != nil {
		return Session{}, storeErr("create refresh record", err)
	}
	return Session{User: user.Public(), Access: access, Refresh: refresh}, nil
}
