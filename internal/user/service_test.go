package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go-chat-sync/internal/chat"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	byEmail map[string]*User
	active  map[string]time.Time
	left    map[string]time.Time
	search  []chat.Profile
}

func newMemStore() *memStore {
	return &memStore{byEmail: map[string]*User{}, active: map[string]time.Time{}, left: map[string]time.Time{}}
}

func (m *memStore) CreateUser(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return nil, ErrEmailTaken
	}
	u.ID = "id-" + u.Email
	m.byEmail[u.Email] = u
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) SearchUsers(_ context.Context, query, exclude string) ([]chat.Profile, error) {
	var out []chat.Profile
	for _, p := range m.search {
		if p.UserID != exclude && strings.Contains(p.DisplayName, query) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) MarkActive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = at
	return nil
}

func (m *memStore) MarkInactive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left[id] = at
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store Store) *Service {
	s := NewService(store, "test-secret", time.Hour)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestRegister_HashesAndNormalises(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	res, err := s.Register(context.Background(), &RegisterRequest{
		Email: "  Ada@Example.com ", Password: "secret1", DisplayName: " Ada ",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.Email)
	assert.Equal(t, "Ada", res.DisplayName)

	stored := store.byEmail["ada@example.com"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "secret1", stored.Password)
}

func TestRegister_Validation(t *testing.T) {
	s := newTestService(newMemStore())
	cases := map[string]RegisterRequest{
		"bad email":      {Email: "nope", Password: "secret1", DisplayName: "Ada"},
		"no name":        {Email: "a@b.c", Password: "secret1", DisplayName: "  "},
		"short password": {Email: "a@b.c", Password: "123", DisplayName: "Ada"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Register(context.Background(), &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newTestService(newMemStore())
	req := &RegisterRequest{Email: "a@b.c", Password: "secret1", DisplayName: "Ada"}
	_, err := s.Register(context.Background(), req)
	require.NoError(t, err)

	_, err = s.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin_IssuesValidToken(t *testing.T) {
	s := newTestService(newMemStore())
	_, err := s.Register(context.Background(), &RegisterRequest{Email: "a@b.c", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	res, err := s.Login(context.Background(), &LoginRequest{Email: "A@B.C", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "id-a@b.c", res.ID)
	assert.Equal(t, fixedNow.Add(time.Hour), res.ExpiresAt)

	id, name, exp, err := s.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "id-a@b.c", id)
	assert.Equal(t, "Ada", name)
	assert.True(t, exp.Equal(fixedNow.Add(time.Hour)))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestService(newMemStore())
	_, err := s.Register(context.Background(), &RegisterRequest{Email: "a@b.c", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	_, err = s.Login(context.Background(), &LoginRequest{Email: "a@b.c", Password: "wrong!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login(context.Background(), &LoginRequest{Email: "ghost@b.c", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	s := newTestService(newMemStore())

	sign := func(method jwt.SigningMethod, secret string, claims Claims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}
	valid := Claims{Name: "Ada", RegisteredClaims: jwt.RegisteredClaims{
		Issuer: issuer, Subject: "u1", ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Minute)),
	}}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(fixedNow.Add(-time.Minute))
	foreign := valid
	foreign.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = ""

	cases := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": sign(jwt.SigningMethodHS256, "other", valid),
		"wrong method": sign(jwt.SigningMethodHS512, "test-secret", valid),
		"expired":      sign(jwt.SigningMethodHS256, "test-secret", expired),
		"issuer":       sign(jwt.SigningMethodHS256, "test-secret", foreign),
		"no subject":   sign(jwt.SigningMethodHS256, "test-secret", noSubject),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := s.ValidateToken(tok)
			assert.Error(t, err)
		})
	}
}

func TestMarkActive_UsesClock(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	require.NoError(t, s.MarkActive(context.Background(), "u1"))
	assert.Equal(t, fixedNow, store.active["u1"])
}

func TestMarkInactive_UsesClock(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	require.NoError(t, s.MarkInactive(context.Background(), "u1"))
	assert.Equal(t, fixedNow, store.left["u1"])
}

func TestSearchUsers_ExcludesCaller(t *testing.T) {
	store := newMemStore()
	store.search = []chat.Profile{{UserID: "u1", DisplayName: "Ada"}, {UserID: "u2", DisplayName: "Adam"}}
	s := newTestService(store)

	got, err := s.SearchUsers(context.Background(), " Ad ", "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)
}

type failingStore struct{ memStore }

func (*failingStore) GetUserByEmail(context.Context, string) (*User, error) {
	return nil, errors.New("db down")
}

func TestLogin_StorageErrorIsNotCredentials(t *testing.T) {
	s := newTestService(&failingStore{})
	_, err := s.Login(context.Background(), &LoginRequest{Email: "a@b.c", Password: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
