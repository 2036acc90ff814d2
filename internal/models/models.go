package models

import (
	// Стандартные библиотеки
	"time" // Для меток времени создания записей
)

// Значения по умолчанию, которые хранилище подставляет при создании записи.
const (
	DefaultCaption     = "My travel memory"
	DefaultImageURL    = "https://example.com/placeholder.jpg"
	UnknownOrientation = "unknown"
)

// User представляет пользователя дневника.
// ID генерируется при регистрации и больше не меняется, Username уникален и чувствителен к регистру.
// `json:"-"` гарантирует, что хеш пароля никогда не попадет в ответ клиенту.
type User struct {
	ID           string `json:"id"`       // Непрозрачный идентификатор (UUID)
	Username     string `json:"username"` // Имя пользователя (UNIQUE)
	PasswordHash string `json:"-"`        // bcrypt-хеш пароля (НЕ ДОЛЖЕН передаваться клиенту)
}

// Location - необязательные координаты места съемки.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ScreenInfo - описание устройства, с которого сделана запись.
// Никогда не бывает null: при отсутствии данных используются нули и "unknown".
type ScreenInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Orientation string `json:"orientation"`
}

// DefaultScreenInfo возвращает значение ScreenInfo для записей без метаданных устройства.
func DefaultScreenInfo() ScreenInfo {
	return ScreenInfo{Width: 0, Height: 0, Orientation: UnknownOrientation}
}

// Entry представляет запись дневника.
// Инвариант: ShareID != nil тогда и только тогда, когда IsShared == true.
type Entry struct {
	ID         int64      `json:"id"`         // Монотонно растущий ID, назначается хранилищем
	UserID     string     `json:"userId"`     // Владелец записи, не меняется
	Caption    string     `json:"caption"`    // Подпись к фотографии
	ImageURL   string     `json:"imageUrl"`   // Ссылка на изображение (URL или data:-ссылка)
	Location   *Location  `json:"location"`   // Координаты (может быть null)
	ScreenInfo ScreenInfo `json:"screenInfo"` // Метаданные устройства
	CreatedAt  time.Time  `json:"createdAt"`  // Время создания записи
	IsShared   bool       `json:"isShared"`   // Открыта ли запись по публичной ссылке
	ShareID    *string    `json:"shareId"`    // Токен публичной ссылки (null, если запись приватная)
}

// NewEntry - данные для создания записи. Пустые поля заполняются хранилищем значениями по умолчанию.
type NewEntry struct {
	Caption    string
	ImageURL   string
	Location   *Location
	ScreenInfo *ScreenInfo
}

// WithDefaults возвращает копию записи с заполненными подписью, изображением и метаданными экрана.
func (n NewEntry) WithDefaults() NewEntry {
	if n.Caption == "" {
		n.Caption = DefaultCaption
	}
	if n.ImageURL == "" {
		n.ImageURL = DefaultImageURL
	}
	if n.ScreenInfo == nil {
		si := DefaultScreenInfo()
		n.ScreenInfo = &si
	}
	if n.Location != nil {
		loc := *n.Location
		n.Location = &loc
	}
	return n
}

// Clone возвращает глубокую копию записи, чтобы вызывающий код не мог изменить данные хранилища.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Location != nil {
		loc := *e.Location
		c.Location = &loc
	}
	if e.ShareID != nil {
		id := *e.ShareID
		c.ShareID = &id
	}
	return &c
}
