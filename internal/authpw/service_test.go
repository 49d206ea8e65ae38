package authpw

import (
	"context"
	"errors"
	"testing"

	"docvers/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	user, ok := f.users[username]
	if !ok {
		return store.User{}, errors.New("no rows")
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Username] = user
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" {
		t.Fatal("Register returned empty user id")
	}
	if user.PasswordHash != "" {
		t.Fatal("Register leaked password hash")
	}

	logged, err := svc.Login(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != user.ID {
		t.Errorf("Login user id = %q, want %q", logged.ID, user.ID)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password-one"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "password-two"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("second Register: err = %v, want ErrUsernameTaken", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.Register(context.Background(), "bob", "short"); err == nil {
		t.Fatal("Register accepted a short password")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "correct horse battery"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.Login(context.Background(), "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login: err = %v, want ErrInvalidCredentials", err)
	}
}
