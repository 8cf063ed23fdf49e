package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/sync/singleflight"

	"property-portal/internal/audit"
	"property-portal/internal/observability"
)

const (
	minPasswordLength   = 12
	maxPasswordLength   = 200
	maxEmailLength      = 254
	minPasswordStrength = 3

	// refreshTimeout bounds a shared refresh so it outlives any one caller.
	refreshTimeout = 10 * time.Second
)

// CredentialStore is the narrow view of the user store the auth core needs.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (CredentialRecord, error)
	GetByID(ctx context.Context, id int64) (CredentialRecord, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	MarkEmailVerified(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

type AdminStore interface {
	UpsertAdmin(ctx context.Context, email, hash string) (int64, error)
}

type ServiceDeps struct {
	Credentials CredentialStore
	Lockout     *LockoutPolicy
	Hasher      *PasswordHasher
	Tokens      *TokenService
	Audit       audit.Recorder
	Notifier    Notifier
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

type Service struct {
	credentials CredentialStore
	lockout     *LockoutPolicy
	hasher      *PasswordHasher
	tokens      *TokenService
	audit       audit.Recorder
	notifier    Notifier
	logger      *observability.Logger
	metrics     *observability.Metrics

	refreshGroup singleflight.Group
	now          func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		credentials: deps.Credentials,
		lockout:     deps.Lockout,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Tokens() *TokenService {
	return s.tokens
}

func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (LoginResult, error) {
	email = normalizeEmail(email)

	fields := map[string]string{}
	if msg := validateEmail(email); msg != "" {
		fields["email"] = msg
	}
	switch {
	case password == "":
		fields["password"] = "password is required"
	case len(password) > maxPasswordLength:
		fields["password"] = "password is too long"
	}
	if len(fields) > 0 {
		return LoginResult{}, validationFailed(fields)
	}

	record, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			s.hasher.burn(password)
			s.metrics.LoginAttempt("invalid_credentials")
			s.record(ctx, audit.ActionLoginFailed, nil, meta, map[string]any{
				"email":  email,
				"reason": "unknown_email",
			})
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load credential: %w", err)
	}

	if err := s.lockout.Check(record); err != nil {
		s.metrics.LoginAttempt("locked")
		s.record(ctx, audit.ActionLoginFailed, audit.Actor(record.ID), meta, map[string]any{
			"email":  email,
			"reason": "account_locked",
		})
		return LoginResult{}, err
	}

	if !VerifyPassword(password, record.PasswordHash) {
		return LoginResult{}, s.handleFailedPassword(ctx, record, meta)
	}

	if err := s.lockout.RecordSuccess(ctx, record.ID); err != nil {
		return LoginResult{}, err
	}

	now := s.now()
	if err := s.credentials.TouchLastLogin(ctx, record.ID, now); err != nil {
		s.logger.Warn("touch_last_login_failed", map[string]any{"user_id": record.ID, "error": err.Error()})
	}
	s.upgradeHash(ctx, record, password)

	result, err := s.issue(record)
	if err != nil {
		return LoginResult{}, err
	}

	s.metrics.LoginAttempt("success")
	s.record(ctx, audit.ActionLoginSuccess, audit.Actor(record.ID), meta, map[string]any{"email": email})
	s.logger.Info("login_succeeded", map[string]any{"user_id": record.ID, "ip": observability.MaskIP(meta.IP)})

	return result, nil
}

func (s *Service) handleFailedPassword(ctx context.Context, record CredentialRecord, meta RequestMeta) error {
	state, err := s.lockout.RecordFailure(ctx, record.ID)
	if err != nil {
		s.record(ctx, audit.ActionLoginFailed, audit.Actor(record.ID), meta, map[string]any{
			"email":  record.Email,
			"reason": "lockout_store_error",
		})
		return err
	}

	s.record(ctx, audit.ActionLoginFailed, audit.Actor(record.ID), meta, map[string]any{
		"email":    record.Email,
		"reason":   "invalid_password",
		"attempts": state.FailedAttempts,
	})

	if s.lockout.IsLocked(state) {
		s.metrics.LoginAttempt("locked")
		s.record(ctx, audit.ActionAccountLocked, audit.Actor(record.ID), meta, map[string]any{
			"email":       record.Email,
			"attempts":    state.FailedAttempts,
			"lockedUntil": state.LockedUntil.Format(time.RFC3339),
		})
		s.logger.Warn("account_locked", map[string]any{
			"user_id":      record.ID,
			"email":        observability.MaskEmail(record.Email),
			"locked_until": state.LockedUntil.Format(time.RFC3339),
		})
		return accountLocked(s.lockout.RetryAfter(state))
	}

	s.metrics.LoginAttempt("invalid_credentials")
	return errInvalidCredentials
}

// upgradeHash replaces legacy or weaker hashes after a successful login.
// Failure is logged and the login proceeds.
func (s *Service) upgradeHash(ctx context.Context, record CredentialRecord, password string) {
	if !s.hasher.NeedsRehash(record.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.credentials.UpdatePasswordHash(ctx, record.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password_rehash_failed", map[string]any{"user_id": record.ID, "error": err.Error()})
		return
	}
	s.logger.Info("password_rehashed", map[string]any{"user_id": record.ID})
}

func (s *Service) issue(record CredentialRecord) (LoginResult, error) {
	pair, err := s.tokens.CreateTokenPair(record.Identity())
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token pair: %w", err)
	}
	return LoginResult{
		User:         record.Summary(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	}, nil
}

// Logout records the event for whichever session token still identifies
// the caller. Tokens stay valid until they expire.
func (s *Service) Logout(ctx context.Context, session Session, meta RequestMeta) {
	var userID int64
	if claims, err := s.tokens.VerifyKind(session.AccessToken, TokenAccess); err == nil {
		userID = claims.UserID
	} else if claims, err := s.tokens.VerifyKind(session.RefreshToken, TokenRefresh); err == nil {
		userID = claims.UserID
	}
	if userID == 0 {
		return
	}

	s.recordOn(ctx, audit.ResourceSession, session.SessionID, audit.ActionLogout, audit.Actor(userID), meta, map[string]any{"sessionId": session.SessionID})
}

func (s *Service) CurrentUser(ctx context.Context, accessToken string) (UserSummary, error) {
	claims, err := s.tokens.VerifyKind(accessToken, TokenAccess)
	if err != nil {
		return UserSummary{}, err
	}

	record, err := s.credentials.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return UserSummary{}, invalidToken(err)
		}
		return UserSummary{}, fmt.Errorf("load current user: %w", err)
	}
	return record.Summary(), nil
}

// Refresh exchanges a refresh token for a new pair. Concurrent calls with
// the same token share a single issuance.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (LoginResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return LoginResult{}, invalidToken(errors.New("missing refresh token"))
	}

	digest := sha256.Sum256([]byte(refreshToken))
	value, err, _ := s.refreshGroup.Do(hex.EncodeToString(digest[:]), func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(sharedCtx, refreshToken, meta)
	})
	if err != nil {
		return LoginResult{}, err
	}
	return value.(LoginResult), nil
}

func (s *Service) refresh(ctx context.Context, refreshToken string, meta RequestMeta) (LoginResult, error) {
	claims, err := s.tokens.VerifyKind(refreshToken, TokenRefresh)
	if err != nil {
		s.record(ctx, audit.ActionTokenInvalid, nil, meta, map[string]any{"kind": string(TokenRefresh), "reason": err.Error()})
		return LoginResult{}, err
	}

	record, err := s.credentials.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return LoginResult{}, invalidToken(err)
		}
		return LoginResult{}, fmt.Errorf("load credential for refresh: %w", err)
	}
	if err := s.lockout.Check(record); err != nil {
		return LoginResult{}, err
	}

	result, err := s.issue(record)
	if err != nil {
		return LoginResult{}, err
	}

	s.record(ctx, audit.ActionTokenRefreshed, audit.Actor(record.ID), meta, nil)
	return result, nil
}

// RequestEmailVerification sends a verification link. Unknown or already
// verified addresses succeed silently.
func (s *Service) RequestEmailVerification(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	if msg := validateEmail(email); msg != "" {
		return validationFailed(map[string]string{"email": msg})
	}

	record, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil
		}
		return fmt.Errorf("load credential for verification: %w", err)
	}
	if record.EmailVerified {
		return nil
	}

	token, err := s.tokens.IssueDefault(record.Identity(), TokenEmailVerification)
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}
	if err := s.notifier.SendEmailVerification(ctx, record.Email, token); err != nil {
		s.logger.Error("send_email_verification_failed", map[string]any{"user_id": record.ID, "error": err.Error()})
	}
	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string, meta RequestMeta) error {
	record, err := s.recordForToken(ctx, token, TokenEmailVerification, meta)
	if err != nil {
		return err
	}

	if err := s.credentials.MarkEmailVerified(ctx, record.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	s.recordOn(ctx, audit.ResourceUser, userResourceID(record.ID), audit.ActionEmailVerified, audit.Actor(record.ID), meta, map[string]any{"email": record.Email})
	return nil
}

// RequestPasswordReset sends a reset link when the account exists. The
// result never reveals whether it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	if msg := validateEmail(email); msg != "" {
		return validationFailed(map[string]string{"email": msg})
	}

	record, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			s.record(ctx, audit.ActionPasswordResetRequested, nil, meta, map[string]any{"email": email, "known": false})
			return nil
		}
		return fmt.Errorf("load credential for password reset: %w", err)
	}

	token, err := s.tokens.IssueDefault(record.Identity(), TokenPasswordReset)
	if err != nil {
		return fmt.Errorf("issue password reset token: %w", err)
	}
	if err := s.notifier.SendPasswordReset(ctx, record.Email, token); err != nil {
		s.logger.Error("send_password_reset_failed", map[string]any{"user_id": record.ID, "error": err.Error()})
	}

	s.record(ctx, audit.ActionPasswordResetRequested, audit.Actor(record.ID), meta, map[string]any{"email": email, "known": true})
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	record, err := s.recordForToken(ctx, token, TokenPasswordReset, meta)
	if err != nil {
		return err
	}

	if msg := checkPasswordStrength(newPassword, record.Email, record.Name, record.CompanyName); msg != "" {
		return validationFailed(map[string]string{"password": msg})
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	if err := s.credentials.UpdatePasswordHash(ctx, record.ID, hash); err != nil {
		return fmt.Errorf("store new password: %w", err)
	}
	if err := s.lockout.RecordSuccess(ctx, record.ID); err != nil {
		return err
	}

	s.recordOn(ctx, audit.ResourceUser, userResourceID(record.ID), audit.ActionPasswordResetCompleted, audit.Actor(record.ID), meta, map[string]any{"email": record.Email})
	return nil
}

// recordForToken verifies a single-purpose token and loads its subject. The
// token's email must still match the account.
func (s *Service) recordForToken(ctx context.Context, token string, kind TokenKind, meta RequestMeta) (CredentialRecord, error) {
	claims, err := s.tokens.VerifyKind(strings.TrimSpace(token), kind)
	if err != nil {
		s.record(ctx, audit.ActionTokenInvalid, nil, meta, map[string]any{"kind": string(kind), "reason": err.Error()})
		return CredentialRecord{}, err
	}

	record, err := s.credentials.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return CredentialRecord{}, invalidToken(err)
		}
		return CredentialRecord{}, fmt.Errorf("load credential for %s token: %w", kind, err)
	}
	if !strings.EqualFold(record.Email, claims.Email) {
		s.record(ctx, audit.ActionTokenInvalid, audit.Actor(record.ID), meta, map[string]any{"kind": string(kind), "reason": "email_mismatch"})
		s.record(ctx, audit.ActionSuspiciousActivity, audit.Actor(record.ID), meta, map[string]any{
			"kind":   string(kind),
			"reason": "token_email_mismatch",
			"email":  record.Email,
		})
		s.logger.Warn("token_email_mismatch", map[string]any{"user_id": record.ID, "kind": string(kind), "ip": observability.MaskIP(meta.IP)})
		return CredentialRecord{}, invalidToken(errors.New("token email does not match account"))
	}
	return record, nil
}

// BootstrapAdmin creates or updates the administrator account. Both values
// empty is a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, store AdminStore, email, password string) error {
	email = normalizeEmail(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if msg := validateEmail(email); msg != "" {
		return fmt.Errorf("ADMIN_EMAIL: %s", msg)
	}
	if msg := checkPasswordStrength(password, email); msg != "" {
		return fmt.Errorf("ADMIN_PASSWORD: %s", msg)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	id, err := store.UpsertAdmin(ctx, email, hash)
	if err != nil {
		return err
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"user_id": id, "email": observability.MaskEmail(email)})
	return nil
}

func (s *Service) record(ctx context.Context, action audit.Action, actor *int64, meta RequestMeta, details map[string]any) {
	s.recordOn(ctx, audit.ResourceAuth, "", action, actor, meta, details)
}

func (s *Service) recordOn(ctx context.Context, resource, resourceID string, action audit.Action, actor *int64, meta RequestMeta, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{
		ActorID:    actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
}

func userResourceID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func validateEmail(email string) string {
	if email == "" {
		return "email is required"
	}
	if len(email) > maxEmailLength {
		return "email is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "email format is invalid"
	}
	return ""
}

func checkPasswordStrength(password string, userInputs ...string) string {
	if len(password) < minPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Sprintf("password must be at most %d characters", maxPasswordLength)
	}

	inputs := make([]string, 0, len(userInputs)+1)
	for _, input := range userInputs {
		if input = strings.TrimSpace(input); input != "" {
			inputs = append(inputs, input)
			if local, _, ok := strings.Cut(input, "@"); ok {
				inputs = append(inputs, local)
			}
		}
	}
	if zxcvbn.PasswordStrength(password, inputs).Score < minPasswordStrength {
		return "password is too weak"
	}
	return ""
}
