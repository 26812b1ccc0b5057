package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCreateUserAssignsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("alice", "alice@example.com", "hash", "keyhash", "pdfe_abcd1234", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	user := &User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		APIKeyHash:   "keyhash",
		APIKeyPrefix: "pdfe_abcd1234",
		IsActive:     true,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID != 7 {
		t.Fatalf("user.ID = %d, want 7", user.ID)
	}
}

func TestGetUserByAPIKeyHash(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash",
		"api_key_hash", "api_key_prefix", "is_active", "created_at",
	}).AddRow(int64(7), "alice", "alice@example.com", "hash", "keyhash", "pdfe_abcd1234", true, created)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE api_key_hash").
		WithArgs("keyhash").
		WillReturnRows(rows)

	user, err := s.GetUserByAPIKeyHash(context.Background(), "keyhash")
	if err != nil {
		t.Fatalf("GetUserByAPIKeyHash: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("unexpected user: %#v", user)
	}
}

func TestGetUserMissingReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash",
		"api_key_hash", "api_key_prefix", "is_active", "created_at",
	})
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("nobody").
		WillReturnRows(rows)

	user, err := s.GetUserByUsername(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user != nil {
		t.Fatalf("user = %#v, want nil", user)
	}
}

func TestUpdateAPIKeyMissingUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET api_key_hash").
		WithArgs("newhash", "pdfe_wxyz9876", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateAPIKey(context.Background(), 99, "newhash", "pdfe_wxyz9876"); err == nil {
		t.Fatal("expected error for missing user")
	}
}
