// Package auth は認証・認可機能を提供します。
// ブラウザ向けにはセッション + CSRF（ダブルサブミット方式）、
// REST API向けにはAPIキー（ハッシュ照合）を使用します。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/pdf-engine/internal/config"
	"github.com/yourusername/pdf-engine/internal/store"
)

const (
	SessionCookieName    = "pe_session"
	sessionKeyUserID     = "auth_user_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader   = "X-CSRF-Token"
	apiKeyHeader = "X-API-Key"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

const (
	// ContextUserIDKey は、ハンドラー間でログイン済みユーザーIDを共有するためのキーです。
	ContextUserIDKey = "auth.user_id"
	// ContextUserKey は、APIキー認証で解決した *store.User を共有するためのキーです。
	ContextUserKey = "auth.user"
)

// CurrentUserID はコンテキストから認証済みユーザーIDを取り出します。
func CurrentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// CurrentUser はコンテキストからAPIキー認証済みのユーザーを取り出します。
func CurrentUser(c *gin.Context) (*store.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*store.User)
	return user, ok
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	db       *store.Store
	logger   *log.Logger
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, db *store.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		attempts: make(map[string]*attemptState),
	}
}

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup は /auth/signup のハンドラーです。
// 登録と同時にAPIキーを発行し、平文キーを一度だけ返します。
func (m *Manager) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username・email・password を JSON で送ってください",
		})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if !validUsername(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ユーザー名は3〜50文字の英数字とアンダースコアで指定してください",
		})
		return
	}
	if !validEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "メールアドレスの形式が正しくありません",
		})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "パスワードは8文字以上で指定してください",
		})
		return
	}

	ctx := c.Request.Context()
	if existing, err := m.db.GetUserByUsername(ctx, req.Username); err != nil {
		m.internalError(c, "signup username lookup", err)
		return
	} else if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "USERNAME_TAKEN",
			"message": "このユーザー名は既に使用されています",
		})
		return
	}
	if existing, err := m.db.GetUserByEmail(ctx, req.Email); err != nil {
		m.internalError(c, "signup email lookup", err)
		return
	} else if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "EMAIL_TAKEN",
			"message": "このメールアドレスは既に登録されています",
		})
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		m.internalError(c, "signup password hash", err)
		return
	}

	apiKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		m.internalError(c, "signup api key generation", err)
		return
	}

	user := &store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		APIKeyHash:   keyHash,
		APIKeyPrefix: keyPrefix,
		IsActive:     true,
	}
	if err := m.db.CreateUser(ctx, user); err != nil {
		m.internalError(c, "signup user insert", err)
		return
	}

	m.logger.Printf("new user registered: %s", user.Username)
	c.JSON(http.StatusCreated, gin.H{
		"message":      "アカウントを作成しました。APIキーは再表示されないため保管してください。",
		"username":     user.Username,
		"apiKey":       apiKey,
		"apiKeyPrefix": keyPrefix,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /auth/login のハンドラーです。ユーザー名またはメールアドレスで認証します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	user, err := m.db.GetUserByLogin(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		m.internalError(c, "login user lookup", err)
		return
	}
	if user == nil || !user.IsActive || !verifyPassword(user.PasswordHash, req.Password) {
		remaining := m.recordFailure(ip)
		m.logger.Printf("failed login attempt for: %s", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}

	m.resetAttempts(ip)

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	now := time.Now()
	session.Set(sessionKeyUserID, user.ID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)

	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	m.logger.Printf("user logged in: %s", user.Username)
	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Profile は /auth/profile のハンドラーです。セッション認証済みユーザーの情報を返します。
func (m *Manager) Profile(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}

	user, err := m.db.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		m.internalError(c, "profile lookup", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ユーザーが見つかりません",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":     user.Username,
		"email":        user.Email,
		"apiKeyPrefix": user.APIKeyPrefix,
		"createdAt":    user.CreatedAt,
	})
}

// RegenerateAPIKey は /auth/apikey のハンドラーです。
// 既存キーを無効化して新しいAPIキーを発行し、平文を一度だけ返します。
func (m *Manager) RegenerateAPIKey(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}

	apiKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		m.internalError(c, "api key generation", err)
		return
	}
	if err := m.db.UpdateAPIKey(c.Request.Context(), userID, keyHash, keyPrefix); err != nil {
		m.internalError(c, "api key update", err)
		return
	}

	m.logger.Printf("api key regenerated for user id=%d", userID)
	c.JSON(http.StatusOK, gin.H{
		"message":      "APIキーを再発行しました。旧キーは無効になります。",
		"apiKey":       apiKey,
		"apiKeyPrefix": keyPrefix,
	})
}

// RequireLogin はセッションを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, ok := readUserID(session.Get(sessionKeyUserID))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		now := time.Now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "セッションの有効期限が切れました",
			})
			return
		}

		if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "しばらく操作がなかったため再ログインしてください",
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// RequireAPIKey はAPIキーを検証するミドルウェアを返します。
// X-API-Key ヘッダー、Authorization: Bearer、クエリパラメータ api_key の順で探します。
func (m *Manager) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "API_KEY_REQUIRED",
				"message": "APIキーを指定してください",
			})
			return
		}

		user, err := m.db.GetUserByAPIKeyHash(c.Request.Context(), HashAPIKey(key))
		if err != nil {
			m.internalError(c, "api key lookup", err)
			c.Abort()
			return
		}
		if user == nil || !user.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_API_KEY",
				"message": "APIキーが無効です",
			})
			return
		}

		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader(apiKeyHeader); key != "" {
		return key
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// クエリパラメータは開発・検証用途のフォールバック
	return c.Query("api_key")
}

// EnsureDefaultAdmin はユーザーが1人もいない場合に初期管理者を作成します。
// 発行したAPIキーは再表示できないため、起動ログに一度だけ出力します。
func (m *Manager) EnsureDefaultAdmin(ctx context.Context) error {
	count, err := m.db.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(m.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	apiKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return err
	}

	admin := &store.User{
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: string(passwordHash),
		APIKeyHash:   keyHash,
		APIKeyPrefix: keyPrefix,
		IsActive:     true,
	}
	if err := m.db.CreateUser(ctx, admin); err != nil {
		return err
	}

	m.logger.Printf("created default admin user with API key: %s", apiKey)
	return nil
}

func (m *Manager) internalError(c *gin.Context, stage string, err error) {
	m.logger.Printf("auth error (%s): %v", stage, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "サーバー内部でエラーが発生しました。",
	})
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := time.Now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUserID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
