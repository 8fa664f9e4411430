package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"study-planner/backend/internal/audit"
	auditdomain "study-planner/backend/internal/audit/domain"
	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/security"
	sessionservice "study-planner/backend/internal/session/service"
	"study-planner/backend/internal/telemetry"
	telemetrydomain "study-planner/backend/internal/telemetry/domain"
	userdomain "study-planner/backend/internal/user/domain"
	userrepo "study-planner/backend/internal/user/repository"
)

// Sentinel errors for the auth service; handlers map them to HTTP status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidInput           = errors.New("invalid input")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
}

// Sessions is the part of the session manager the auth service composes.
type Sessions interface {
	Login(ctx context.Context, user *userdomain.User, client sessionservice.ClientInfo) (*sessionservice.Credentials, error)
	ForceLogoutAll(ctx context.Context, userID string) (int64, error)
}

// AuthService implements register, login, password change and current-user resolution.
type AuthService struct {
	users    UserRepo
	sessions Sessions
	hasher   *security.Hasher
	tokens   *security.TokenIssuer
	audit    audit.Appender
	events   telemetry.EventEmitter
	log      *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies. audit, events and log may be nil.
func NewAuthService(
	users UserRepo,
	sessions Sessions,
	hasher *security.Hasher,
	tokens *security.TokenIssuer,
	auditor audit.Appender,
	events telemetry.EventEmitter,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		audit:    auditor,
		events:   events,
		log:      log.Named("auth"),
	}
}

// Register creates a STUDENT with the given email and password, records the registering
// device's fingerprint and opens the first session.
func (s *AuthService) Register(ctx context.Context, email, password, name string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := userdomain.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash(ctx, []byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:                uuid.New().String(),
		Email:             email,
		Name:              strings.TrimSpace(name),
		Role:              userdomain.RoleStudent,
		PasswordHash:      hashed,
		DeviceFingerprint: client.Fingerprint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID))
	return s.sessions.Login(ctx, user, client)
}

// Login authenticates with email and password and opens a session for client.
// Unknown email, wrong password and banned accounts all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	hash := s.dummy()
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := s.hasher.Verify(ctx, []byte(password), hash)
	if err != nil {
		return nil, err
	}
	if user == nil || !ok {
		s.loginFailed(user, client, "bad_credentials")
		return nil, ErrInvalidCredentials
	}
	if user.IsBanned {
		s.loginFailed(user, client, "banned")
		return nil, ErrInvalidCredentials
	}
	return s.sessions.Login(ctx, user, client)
}

// ChangePassword verifies current, stores next, signs out every session of the user and
// returns fresh credentials for the calling device.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.IsBanned {
		return nil, ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(ctx, []byte(current), user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := userdomain.ValidatePassword(next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hashed, err := s.hasher.Hash(ctx, []byte(next))
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hashed, time.Now().UTC()); err != nil {
		return nil, err
	}
	if _, err := s.sessions.ForceLogoutAll(ctx, user.ID); err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, audit.Record{
			ActorID:    user.ID,
			Action:     auditdomain.ActionPasswordChanged,
			EntityType: auditdomain.EntityUser,
			EntityID:   user.ID,
			IPAddress:  client.IPAddress,
		})
	}
	user.PasswordHash = hashed
	return s.sessions.Login(ctx, user, client)
}

// CurrentUser resolves the caller from an access token. It never fails: an absent, expired or
// invalid token yields (nil, false).
func (s *AuthService) CurrentUser(accessToken string) (*identitydomain.CurrentUser, bool) {
	if accessToken == "" || s.tokens == nil {
		return nil, false
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, false
	}
	return &identitydomain.CurrentUser{
		UserID:              claims.UserID,
		Email:               claims.Email,
		Role:                claims.Role,
		SessionID:           claims.SessionID,
		DeviceID:            claims.DeviceID,
		OnboardingCompleted: claims.OnboardingCompleted,
		ImpersonatorID:      claims.ImpersonatorID,
	}, true
}

// dummy returns a valid bcrypt hash compared against when the email is unknown, so the
// response time does not reveal whether an account exists.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(context.Background(), []byte(uuid.NewString()))
		if err != nil {
			s.log.Error("dummy hash generation failed", zap.Error(err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *AuthService) loginFailed(user *userdomain.User, client sessionservice.ClientInfo, reason string) {
	ev := telemetrydomain.NewEvent(telemetrydomain.EventLoginFailed)
	if user != nil {
		ev.UserID = user.ID
	}
	ev.IPAddress = client.IPAddress
	ev.Detail = reason
	telemetry.EmitAsync(s.events, ev)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}
