package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"traveldiary/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenConfig - параметры проверки токенов внешнего провайдера удостоверений.
type TokenConfig struct {
	Secret   string        // Общий секрет HS256
	Issuer   string        // Ожидаемый iss (пусто - не проверяется)
	Audience string        // Ожидаемый aud (пусто - не проверяется)
	Leeway   time.Duration // Допуск расхождения часов
}

// IdentityClaims - утверждения токена провайдера. sub содержит ID пользователя.
type IdentityClaims struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenGate - аутентификация по bearer-токену (JWT HS256), выданному внешним провайдером.
// Регистрация и вход выполняются у провайдера, поэтому Register и Login возвращают ErrDelegated.
type TokenGate struct {
	secret []byte
	parser *jwt.Parser
	log    *zap.SugaredLogger
}

var _ Gate = (*TokenGate)(nil)

func NewTokenGate(cfg TokenConfig, log *zap.SugaredLogger) (*TokenGate, error) {
	if cfg.Secret == "" {
		return nil, errors.New("не задан секрет для проверки токенов")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &TokenGate{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...), log: log}, nil
}

// Middleware ничего не делает: состояние сессии хранится в самом токене.
func (g *TokenGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) { c.Next() }
}

func (g *TokenGate) Authenticate(c *gin.Context) (*models.User, error) {
	raw, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		return nil, ErrUnauthenticated
	}
	user, err := g.Verify(raw)
	if err != nil {
		g.log.Infof("Отклонен токен с IP %s: %v", c.ClientIP(), err)
		return nil, ErrUnauthenticated
	}
	return user, nil
}

// Verify проверяет подпись, срок действия, iss и aud токена и возвращает пользователя.
func (g *TokenGate) Verify(raw string) (*models.User, error) {
	claims := &IdentityClaims{}
	token, err := g.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("разбор токена: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("токен недействителен")
	}
	if claims.Subject == "" {
		return nil, errors.New("в токене нет sub")
	}

	name := claims.PreferredUsername
	if name == "" {
		name = claims.Email
	}
	if name == "" {
		name = claims.Subject
	}
	return &models.User{ID: claims.Subject, Username: name}, nil
}

func (g *TokenGate) Register(*gin.Context, string, string) (*models.User, error) {
	return nil, ErrDelegated
}

func (g *TokenGate) Login(*gin.Context, string, string) (*models.User, error) {
	return nil, ErrDelegated
}

// Logout ничего не делает: токен отзывается у провайдера.
func (g *TokenGate) Logout(*gin.Context) error { return nil }

// SignToken выпускает токен в формате провайдера. Нужен для локальной разработки и тестов.
func SignToken(secret, userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		PreferredUsername: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
