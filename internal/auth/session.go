package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"

	"github.com/hitushen/netsweep/internal/models"
)

const sessionName = "netsweep_auth"

// ErrUnauthorised 表示请求未携带有效会话。
var ErrUnauthorised = errors.New("unauthorised")

// Authenticator 校验用户名和密码，*store.Store 满足该接口。
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// Manager 负责处理登录会话。
type Manager struct {
	users  Authenticator
	cookie sessions.Store
}

// NewManager 使用提供的会话密钥创建 Manager。
func NewManager(users Authenticator, sessionKey []byte) *Manager {
	cookieStore := sessions.NewCookieStore(sessionKey)
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   60 * 60 * 12, // 12 小时
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &Manager{users: users, cookie: cookieStore}
}

// Login 校验凭证并写入会话信息。
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, username, password string) error {
	user, err := m.users.Authenticate(r.Context(), username, password)
	if err != nil {
		return err
	}
	session, _ := m.cookie.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	session.Values["username"] = user.Username
	return session.Save(r, w)
}

// Logout 清理当前会话。
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.cookie.Get(r, sessionName)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// CurrentUser 返回会话中的用户 ID 与用户名。
func (m *Manager) CurrentUser(r *http.Request) (int64, string, error) {
	session, err := m.cookie.Get(r, sessionName)
	if err != nil {
		return 0, "", err
	}
	userID := toInt64(session.Values["user_id"])
	if userID == 0 {
		return 0, "", ErrUnauthorised
	}
	name, _ := session.Values["username"].(string)
	return userID, name, nil
}

// Middleware 确保请求具备已登录用户：API 请求返回 401，页面请求跳转登录页。
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, name, err := m.CurrentUser(r)
		if err != nil {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorised"}`))
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		ctx := ContextWithUser(r.Context(), userID, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	usernameKey contextKey = "username"
)

// ContextWithUser 将用户信息写入上下文。
func ContextWithUser(ctx context.Context, userID int64, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, username)
}

// UserFromContext 从上下文读取用户 ID。
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id != 0
}

// UsernameFromContext 读取用户名以供界面展示。
func UsernameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(usernameKey).(string)
	return name
}

func toInt64(v interface{}) int64 {
	switch value := v.(type) {
	case int:
		return int64(value)
	case int64:
		return value
	case uint:
		return int64(value)
	case uint64:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
