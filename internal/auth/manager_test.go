package auth

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestAuthManager() *Manager {
	return NewManager(nil, nil, log.New(io.Discard, "", 0))
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	m := newTestAuthManager()
	ip := "203.0.113.9"

	for i := 0; i < maxLoginAttempts; i++ {
		if wait := m.checkLock(ip); wait > 0 {
			t.Fatalf("locked too early after %d failures", i)
		}
		m.recordFailure(ip)
	}

	wait := m.checkLock(ip)
	if wait <= 0 {
		t.Fatal("expected lock after max failures")
	}
	if wait > lockDuration {
		t.Fatalf("lock duration %v exceeds maximum %v", wait, lockDuration)
	}
}

func TestLoginAttemptsResetOnSuccess(t *testing.T) {
	m := newTestAuthManager()
	ip := "203.0.113.10"

	for i := 0; i < maxLoginAttempts-1; i++ {
		m.recordFailure(ip)
	}
	m.resetAttempts(ip)
	m.recordFailure(ip)

	if wait := m.checkLock(ip); wait > 0 {
		t.Fatal("attempts should reset after successful login")
	}
}

func TestCurrentUserIDMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := CurrentUserID(ctx); ok {
		t.Fatal("expected no user id on fresh context")
	}

	ctx.Set(ContextUserIDKey, int64(42))
	id, ok := CurrentUserID(ctx)
	if !ok || id != 42 {
		t.Fatalf("CurrentUserID = %d, %v; want 42, true", id, ok)
	}
}

func TestIsSafeMethod(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if !isSafeMethod(method) {
			t.Fatalf("isSafeMethod(%s) = false, want true", method)
		}
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if isSafeMethod(method) {
			t.Fatalf("isSafeMethod(%s) = true, want false", method)
		}
	}
}

func TestSessionMaxAgeSeconds(t *testing.T) {
	if got := SessionMaxAgeSeconds(); got != int((12 * time.Hour).Seconds()) {
		t.Fatalf("SessionMaxAgeSeconds = %d", got)
	}
}
