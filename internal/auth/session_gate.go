package auth

import (
	// Стандартные библиотеки
	"errors"      // Для errors.Is
	"fmt"         // Для оборачивания ошибок
	"net/http"    // Для http.SameSiteLaxMode
	"sync/atomic" // Стоимость фиктивного хеша меняется при входах

	// Внутренние пакеты
	"traveldiary/internal/database" // Хранилище пользователей
	"traveldiary/internal/models"   // Структура User

	// Сторонние библиотеки
	"github.com/gin-contrib/sessions"        // Middleware сессий для Gin
	"github.com/gin-contrib/sessions/cookie" // Хранилище сессий на основе подписанных cookie
	"github.com/gin-gonic/gin"               // Основной фреймворк
	"go.uber.org/zap"                        // Логирование
	"golang.org/x/crypto/bcrypt"             // Стоимость сохраненных хешей
)

// Ключи данных сессии.
const (
	sessionUserIDKey   = "userID"
	sessionUsernameKey = "username"
)

// SessionConfig - параметры cookie-сессий.
type SessionConfig struct {
	Secret     string // Секрет для подписи cookie
	CookieName string // Имя cookie сессии
	MaxAge     int    // Время жизни cookie в секундах
	Secure     bool   // Отправлять cookie только по HTTPS
	BcryptCost int    // Стоимость bcrypt для новых паролей (0 - bcrypt.DefaultCost)
}

// SessionGate - аутентификация по имени и паролю с сессией в подписанной cookie.
type SessionGate struct {
	store      database.Storage
	sessions   cookie.Store
	cookieName string
	cost       int
	// dummyCost - стоимость хешей, которые реально проверяются при входе.
	// Фиктивная проверка для неизвестного имени использует ее же, даже если bcrypt_cost с тех пор изменили.
	dummyCost atomic.Int32
	log       *zap.SugaredLogger
}

var _ Gate = (*SessionGate)(nil)

// NewSessionGate создает SessionGate поверх хранилища пользователей.
func NewSessionGate(store database.Storage, cfg SessionConfig, log *zap.SugaredLogger) (*SessionGate, error) {
	if cfg.Secret == "" {
		return nil, errors.New("не задан секрет для подписи cookie сессий")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "traveldiary_session"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 86400
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	sessStore := cookie.NewStore([]byte(cfg.Secret))
	sessStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		HttpOnly: true, // cookie недоступна из JavaScript
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	g := &SessionGate{
		store:      store,
		sessions:   sessStore,
		cookieName: cfg.CookieName,
		cost:       cost,
		log:        log,
	}
	g.dummyCost.Store(int32(cost))
	return g, nil
}

// Middleware делает сессию доступной через sessions.Default(c).
func (g *SessionGate) Middleware() gin.HandlerFunc {
	return sessions.Sessions(g.cookieName, g.sessions)
}

func (g *SessionGate) Authenticate(c *gin.Context) (*models.User, error) {
	session := sessions.Default(c)
	raw := session.Get(sessionUserIDKey)
	if raw == nil {
		return nil, ErrUnauthenticated
	}

	userID, ok := raw.(string)
	if !ok || userID == "" {
		// Данные сессии повреждены: очищаем cookie, пользователь войдет заново.
		g.log.Warnf("Некорректный тип userID (%T) в сессии для IP %s. Сессия будет очищена.", raw, c.ClientIP())
		g.clear(session)
		return nil, ErrUnauthenticated
	}

	user, err := g.store.GetUser(c.Request.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		g.log.Warnf("Пользователь из сессии (ID: %s) не найден. Сессия будет очищена.", userID)
		g.clear(session)
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("загрузка пользователя сессии: %w", err)
	}
	return user, nil
}

func (g *SessionGate) Register(c *gin.Context, username, password string) (*models.User, error) {
	hash, err := HashPasswordCost(password, g.cost)
	if err != nil {
		return nil, err
	}
	user, err := g.store.CreateUser(c.Request.Context(), username, hash)
	if err != nil {
		return nil, err
	}
	if err := g.establish(c, user); err != nil {
		return nil, err
	}
	g.log.Infof("Пользователь %s успешно зарегистрирован.", username)
	return user, nil
}

func (g *SessionGate) Login(c *gin.Context, username, password string) (*models.User, error) {
	user, err := g.store.GetUserByUsername(c.Request.Context(), username)
	if errors.Is(err, database.ErrNotFound) {
		// Неизвестный пользователь проходит такую же проверку bcrypt, как и известный.
		CheckPasswordHash(password, dummyHash(int(g.dummyCost.Load())))
		g.log.Infof("Неудачная попытка входа для пользователя '%s'.", username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("поиск пользователя %s: %w", username, err)
	}

	if cost, err := bcrypt.Cost([]byte(user.PasswordHash)); err == nil {
		g.dummyCost.Store(int32(cost))
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		g.log.Infof("Неудачная попытка входа для пользователя '%s'.", username)
		return nil, ErrInvalidCredentials
	}

	if err := g.establish(c, user); err != nil {
		return nil, err
	}
	g.log.Infof("Пользователь %s (ID: %s) успешно вошел в систему.", user.Username, user.ID)
	return user, nil
}

func (g *SessionGate) Logout(c *gin.Context) error {
	session := sessions.Default(c)
	userID := session.Get(sessionUserIDKey)
	if err := g.clear(session); err != nil {
		return err
	}
	if userID != nil {
		g.log.Infof("Пользователь (ID: %v) успешно вышел из системы.", userID)
	}
	return nil
}

func (g *SessionGate) establish(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Set(sessionUserIDKey, user.ID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		return fmt.Errorf("сохранение сессии пользователя %s: %w", user.ID, err)
	}
	return nil
}

// clear удаляет данные пользователя и просит браузер удалить cookie.
func (g *SessionGate) clear(session sessions.Session) error {
	session.Delete(sessionUserIDKey)
	session.Delete(sessionUsernameKey)
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		g.log.Errorf("Ошибка сохранения сессии при очистке: %v", err)
		return fmt.Errorf("очистка сессии: %w", err)
	}
	return nil
}
