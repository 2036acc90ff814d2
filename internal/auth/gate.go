package auth

import (
	"errors"

	"traveldiary/internal/models"

	"github.com/gin-gonic/gin"
)

// Режимы аутентификации (значение auth.mode в конфигурации).
const (
	ModeSession = "session"
	ModeToken   = "token"
)

var (
	// ErrUnauthenticated - в запросе нет действующей сессии или токена.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidCredentials - неверное имя пользователя или пароль.
	// Одинакова для неизвестного пользователя и неверного пароля.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDelegated - регистрация и вход выполняются внешним провайдером удостоверений.
	ErrDelegated = errors.New("handled by the identity provider")
)

// Gate определяет личность вызывающего и управляет сессией.
type Gate interface {
	// Middleware подготавливает контекст запроса (например, загружает cookie-сессию).
	Middleware() gin.HandlerFunc
	// Authenticate возвращает текущего пользователя или ErrUnauthenticated.
	Authenticate(c *gin.Context) (*models.User, error)
	// Register создает пользователя и сразу открывает для него сессию.
	Register(c *gin.Context, username, password string) (*models.User, error)
	// Login проверяет учетные данные и открывает сессию.
	Login(c *gin.Context, username, password string) (*models.User, error)
	// Logout завершает сессию. Вызов без сессии не является ошибкой.
	Logout(c *gin.Context) error
}

// ContextUserKey - ключ gin.Context, под которым middleware сохраняет пользователя.
const ContextUserKey = "user"

// SetUser сохраняет аутентифицированного пользователя в контексте запроса.
func SetUser(c *gin.Context, u *models.User) {
	c.Set(ContextUserKey, u)
}

// UserFromContext возвращает пользователя, сохраненного SetUser.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok && u != nil
}
