package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"study-planner/backend/internal/audit"
	auditdomain "study-planner/backend/internal/audit/domain"
	"study-planner/backend/internal/security"
	sessionservice "study-planner/backend/internal/session/service"
	telemetrydomain "study-planner/backend/internal/telemetry/domain"
	userdomain "study-planner/backend/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	byEmail map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*userdomain.User{}, byEmail: map[string]*userdomain.User{}}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail[email], nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
	return nil
}

func (r *memUserRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u2 := *u
		u2.PasswordHash = hash
		r.byID[userID] = &u2
		r.byEmail[u.Email] = &u2
	}
	return nil
}

// fakeSessions records calls instead of creating real sessions.
type fakeSessions struct {
	mu          sync.Mutex
	logins      []string
	forcedOut   []string
	fingerprint string
}

func (f *fakeSessions) Login(ctx context.Context, user *userdomain.User, client sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, user.ID)
	f.fingerprint = client.Fingerprint
	return &sessionservice.Credentials{AccessToken: "access", RefreshToken: "refresh", UserID: user.ID}, nil
}

func (f *fakeSessions) ForceLogoutAll(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forcedOut = append(f.forcedOut, userID)
	return 1, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *recordingAudit) Append(ctx context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) LogEvent(ctx context.Context, rec audit.Record) {
	_ = a.Append(ctx, rec)
}

type eventSink struct {
	mu     sync.Mutex
	events []*telemetrydomain.SecurityEvent
}

func (e *eventSink) Emit(ctx context.Context, ev *telemetrydomain.SecurityEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventSink) waitFor(t *testing.T, n int) []*telemetrydomain.SecurityEvent {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		if len(e.events) >= n {
			out := append([]*telemetrydomain.SecurityEvent(nil), e.events...)
			e.mu.Unlock()
			return out
		}
		e.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d security events", n)
	return nil
}

type fixture struct {
	svc      *AuthService
	users    *memUserRepo
	sessions *fakeSessions
	audit    *recordingAudit
	events   *eventSink
	tokens   *security.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewTokenIssuer([]byte(strings.Repeat("k", security.MinSecretBytes)), "iss", "aud", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	f := &fixture{
		users:    newMemUserRepo(),
		sessions: &fakeSessions{},
		audit:    &recordingAudit{},
		events:   &eventSink{},
		tokens:   tokens,
	}
	f.svc = NewAuthService(f.users, f.sessions, security.NewHasher(4, 2), tokens, f.audit, f.events, nil)
	return f
}

var laptop = sessionservice.ClientInfo{Fingerprint: "fp-laptop", UserAgent: "ua", IPAddress: "198.51.100.4"}

func TestRegister_CreatesStudentAndLogsIn(t *testing.T) {
	f := newFixture(t)
	creds, err := f.svc.Register(context.Background(), "  Student@Example.com ", "correct horse 1", "Sam", laptop)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, _ := f.users.GetByEmail(context.Background(), "student@example.com")
	if u == nil {
		t.Fatal("user not stored under normalized email")
	}
	if u.Role != userdomain.RoleStudent {
		t.Errorf("role = %q, want STUDENT", u.Role)
	}
	if u.DeviceFingerprint != laptop.Fingerprint {
		t.Errorf("fingerprint = %q, want %q", u.DeviceFingerprint, laptop.Fingerprint)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct horse 1" {
		t.Error("password must be stored hashed")
	}
	if creds.UserID != u.ID || len(f.sessions.logins) != 1 {
		t.Errorf("expected a session for the new user")
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name, email, password string
	}{
		{"bad email", "not-an-email", "password123"},
		{"short password", "a@example.com", "pw1"},
		{"no digit", "a@example.com", "passwordpassword"},
		{"over 72 bytes", "a@example.com", strings.Repeat("a1", 37)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), tc.email, tc.password, "", laptop); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("want ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "dup@example.com", "password123", "", laptop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Register(ctx, "DUP@example.com", "password456", "", laptop); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("want ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "login@example.com", "password123", "", laptop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Login(ctx, "LOGIN@example.com", "password123", laptop); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Login(ctx, "login@example.com", "wrong-password1", laptop); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "nobody@example.com", "password123", laptop); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: want ErrInvalidCredentials, got %v", err)
	}
	events := f.events.waitFor(t, 2)
	for _, ev := range events {
		if ev.Type != telemetrydomain.EventLoginFailed {
			t.Errorf("event type = %s", ev.Type)
		}
		if strings.Contains(ev.Detail, "@") {
			t.Error("login_failed events must not carry the email")
		}
	}
}

func TestLogin_BannedLooksLikeBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "banned@example.com", "password123", "", laptop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, _ := f.users.GetByEmail(ctx, "banned@example.com")
	u.IsBanned = true

	_, err := f.svc.Login(ctx, "banned@example.com", "password123", laptop)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if len(f.sessions.logins) != 1 {
		t.Error("banned user must not get a session")
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds, err := f.svc.Register(ctx, "change@example.com", "password123", "", laptop)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.ChangePassword(ctx, creds.UserID, "not-it-123", "newpassword1", laptop); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.ChangePassword(ctx, creds.UserID, "password123", "newpassword1", laptop); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if len(f.sessions.forcedOut) != 1 || f.sessions.forcedOut[0] != creds.UserID {
		t.Errorf("forcedOut = %v", f.sessions.forcedOut)
	}
	if len(f.audit.records) != 1 || f.audit.records[0].Action != auditdomain.ActionPasswordChanged {
		t.Errorf("audit = %+v", f.audit.records)
	}
	if _, err := f.svc.Login(ctx, "change@example.com", "newpassword1", laptop); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if _, err := f.svc.Login(ctx, "change@example.com", "password123", laptop); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.IssueAccess(security.AccessClaims{
		SessionID: "s1", UserID: "u1", Email: "u1@example.com", Role: "ADMIN", DeviceID: "fp",
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	cu, ok := f.svc.CurrentUser(token)
	if !ok || cu.UserID != "u1" || !cu.IsAdmin() || cu.IsImpersonating() {
		t.Fatalf("CurrentUser = %+v, %v", cu, ok)
	}
	for _, bad := range []string{"", "garbage", token + "x"} {
		if cu, ok := f.svc.CurrentUser(bad); ok || cu != nil {
			t.Errorf("CurrentUser(%q) should be absent", bad)
		}
	}
}
