// Package session holds the process-wide login state of a camp desk: the
// bearer token and user type issued by the backend, persisted between runs,
// plus the teardown hooks that must run on logout.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// LoginPath is the entry point operators are sent to when a guard fails.
const LoginPath = "/login"

// User types issued by the backend.
const (
	UserTypeAdmin     = "admin"
	UserTypeVolunteer = "volunteer"
	UserTypeDoctor    = "doctor"
)

// ErrLoginRequired is matched with errors.Is by callers of Require.
var ErrLoginRequired = errors.New("login required")

// LoginRequiredError explains why a guard redirected to login.
type LoginRequiredError struct {
	LoginPath string
	Reason    string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("login required (%s): continue at %s", e.Reason, e.LoginPath)
}

func (e *LoginRequiredError) Is(target error) bool { return target == ErrLoginRequired }

// Persisted is the on-disk form of a session.
type Persisted struct {
	Token    string    `json:"token"`
	UserType string    `json:"user_type"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store persists the session between process runs.
type Store interface {
	Load() (*Persisted, error)
	Save(p *Persisted) error
	Clear() error
}

// Session is the explicit replacement for scattered token reads. Construct
// one per process, call Init at startup and Logout on sign-out.
type Session struct {
	mu       sync.RWMutex
	store    Store
	token    string
	userType string
	teardown []func()
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Session backed by store.
func New(store Store, logger zerolog.Logger) *Session {
	return &Session{
		store:  store,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
	}
}

// Init reads the persisted token. A missing session is not an error.
func (s *Session) Init() error {
	p, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.token, s.userType = "", ""
		return nil
	}
	s.token, s.userType = p.Token, p.UserType
	s.logger.Debug().Str("user_type", p.UserType).Msg("session restored")
	return nil
}

// Login records and persists a freshly issued token.
func (s *Session) Login(token, userType string) error {
	if token == "" || userType == "" {
		return fmt.Errorf("token and user type are required")
	}
	if err := s.store.Save(&Persisted{Token: token, UserType: userType, SavedAt: s.now().UTC()}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.token, s.userType = token, userType
	s.mu.Unlock()
	s.logger.Info().Str("user_type", userType).Msg("logged in")
	return nil
}

// OnLogout registers fn to run during Logout, after the token is cleared.
// The realtime provider registers its Reset here.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = append(s.teardown, fn)
}

// Logout clears the token in memory and on disk and runs teardown hooks in
// reverse registration order.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token, s.userType = "", ""
	hooks := slices.Clone(s.teardown)
	s.mu.Unlock()

	err := s.store.Clear()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info().Msg("logged out")
	return nil
}

// Token returns the current bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserType returns the current user type marker, or "".
func (s *Session) UserType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userType
}

// Require is the route guard: it returns a *LoginRequiredError when no
// token is held, the token has expired, or the user type is not one of
// roles. An empty roles list accepts any authenticated user.
func (s *Session) Require(roles ...string) error {
	s.mu.RLock()
	token, userType := s.token, s.userType
	s.mu.RUnlock()

	if token == "" || userType == "" {
		return &LoginRequiredError{LoginPath: LoginPath, Reason: "not logged in"}
	}
	if s.expired(token) {
		return &LoginRequiredError{LoginPath: LoginPath, Reason: "session expired"}
	}
	if len(roles) > 0 && !slices.Contains(roles, userType) {
		return &LoginRequiredError{LoginPath: LoginPath, Reason: fmt.Sprintf("user type %q not permitted", userType)}
	}
	return nil
}

// expired reads the exp claim without verifying the signature; the backend
// remains the authority on validity. Opaque tokens never expire client-side.
func (s *Session) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(claims.ExpiresAt.Time)
}

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

// FileStore keeps the session in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() (*Persisted, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if p.Token == "" {
		return nil, nil
	}
	return &p, nil
}

func (f *FileStore) Save(p *Persisted) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is a Store that keeps nothing on disk.
type MemoryStore struct {
	mu sync.Mutex
	p  *Persisted
}

func (m *MemoryStore) Load() (*Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p == nil {
		return nil, nil
	}
	cp := *m.p
	return &cp, nil
}

func (m *MemoryStore) Save(p *Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.p = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = nil
	return nil
}
