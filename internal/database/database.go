package database

import (
	// Стандартные библиотеки
	"context"      // Контекст запроса для всех обращений к БД
	"database/sql" // Типы sql.Null* и sql.ErrNoRows
	"errors"       // Для errors.Is / errors.As
	"fmt"          // Для форматирования строк и ошибок
	"strings"      // Для анализа текста ошибок SQLite
	"sync"         // Для однократной регистрации плейсхолдеров драйвера
	"time"         // Для пула соединений и меток времени

	// Внутренние пакеты
	"traveldiary/internal/database/migrations" // Встроенные миграции goose
	"traveldiary/internal/models"              // Структуры User и Entry

	// Сторонние библиотеки
	"github.com/google/uuid"           // Генерация ID пользователей
	"github.com/jackc/pgx/v5/pgconn"   // Коды ошибок PostgreSQL
	_ "github.com/jackc/pgx/v5/stdlib" // Регистрирует драйвер "pgx" в database/sql
	"github.com/jmoiron/sqlx"          // Сканирование строк в структуры, перевод плейсхолдеров
	"github.com/pressly/goose/v3"      // Миграции схемы
	_ "modernc.org/sqlite"             // Регистрирует драйвер "sqlite" (чистый Go, без CGO)
)

// Поддерживаемые SQL-движки (значение storage.driver в конфигурации).
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// pgUniqueViolation - код ошибки PostgreSQL при нарушении UNIQUE.
const pgUniqueViolation = "23505"

// entryColumns - список столбцов записи в порядке, общем для всех запросов.
const entryColumns = `id, user_id, caption, image_url, location_lat, location_lng,
	screen_width, screen_height, screen_orientation, created_at, is_shared, share_id`

var registerBindOnce sync.Once

// dialect описывает различия между движками: имя драйвера database/sql, диалект goose и каталог миграций.
type dialect struct {
	driverName    string
	gooseDialect  string
	migrationsDir string
	maxOpenConns  int
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		// Для SQLite ограничиваемся одним соединением: запись в один файл все равно последовательна,
		// а для ":memory:" каждое новое соединение открыло бы отдельную пустую базу.
		return dialect{driverName: "sqlite", gooseDialect: "sqlite3", migrationsDir: "sqlite", maxOpenConns: 1}, nil
	case DriverPostgres:
		return dialect{driverName: "pgx", gooseDialect: "postgres", migrationsDir: "postgres", maxOpenConns: 10}, nil
	default:
		return dialect{}, fmt.Errorf("неизвестный драйвер хранилища: %q", driver)
	}
}

// SQLStorage - хранилище поверх SQLite (modernc.org/sqlite) или PostgreSQL (pgx).
type SQLStorage struct {
	db      *sqlx.DB
	dialect dialect
	opts    options
}

var _ Storage = (*SQLStorage)(nil)

// SQLiteDSN формирует строку подключения modernc.org/sqlite с нужными PRAGMA:
// внешние ключи, таймаут ожидания блокировки 5 секунд и WAL для файловой базы.
// Если в пути уже есть параметры, он возвращается без изменений.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	// _time_format=sqlite записывает time.Time в формате "2006-01-02 15:04:05.999999999-07:00".
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return path + "?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open подключается к базе, проверяет соединение и применяет миграции.
// driver - DriverSQLite или DriverPostgres; для SQLite dsn - путь к файлу или ":memory:".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStorage, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	registerBindOnce.Do(func() {
		// sqlx не знает имя драйвера modernc, явно указываем стиль плейсхолдеров "?".
		sqlx.BindDriver("sqlite", sqlx.QUESTION)
	})

	if driver == DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}

	// sqlx.Open не устанавливает соединение немедленно, а только подготавливает пул.
	db, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка при открытии базы (%s): %w", driver, err)
	}
	db.SetMaxOpenConns(d.maxOpenConns)
	db.SetMaxIdleConns(d.maxOpenConns)
	if driver == DriverPostgres {
		// Соединение SQLite ":memory:" нельзя пересоздавать: вместе с ним пропадет база.
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения (%s): %w", driver, err)
	}
	o.log.Infof("Успешно подключились к базе данных (%s)", driver)

	s := &SQLStorage{db: db, dialect: d, opts: o}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка при применении миграций: %w", err)
	}
	o.log.Infof("Миграции схемы применены (%s).", d.migrationsDir)
	return s, nil
}

// gooseLogger перенаправляет вывод goose в zap.
type gooseLogger struct{ opts options }

func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.opts.log.Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...interface{}) { l.opts.log.Debugf(format, v...) }

var gooseMu sync.Mutex

func (s *SQLStorage) migrate(ctx context.Context) error {
	// goose хранит FS и диалект в глобальных переменных, поэтому настройка и запуск идут под мьютексом.
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{opts: s.opts})
	if err := goose.SetDialect(s.dialect.gooseDialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db.DB, s.dialect.migrationsDir)
}

// isUniqueViolation распознает нарушение UNIQUE в обоих движках.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLStorage) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u := &models.User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}

	q := s.db.Rebind(`INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Username, u.PasswordHash); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("пользователь '%s': %w", username, ErrUsernameTaken)
		}
		return nil, fmt.Errorf("ошибка при выполнении запроса CreateUser: %w", err)
	}

	s.opts.log.Infof("Создан пользователь: %s (ID: %s)", username, u.ID)
	return u, nil
}

type userRow struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
}

func (r userRow) toModel() *models.User {
	return &models.User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash}
}

func (s *SQLStorage) getUser(ctx context.Context, column, value string) (*models.User, error) {
	var row userRow
	q := s.db.Rebind(`SELECT id, username, password_hash FROM users WHERE ` + column + ` = ?`)
	if err := s.db.GetContext(ctx, &row, q, value); err != nil {
		// sql.ErrNoRows означает, что запрос выполнился, но пользователь не найден.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования пользователя по %s: %w", column, err)
	}
	return row.toModel(), nil
}

func (s *SQLStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "username", username)
}

// sqliteTimeLayouts - форматы, в которых SQLite может вернуть DATETIME текстом.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
}

// dbTime сканирует метку времени из time.Time (pgx, modernc для DATETIME-столбцов)
// или из текста (modernc для столбцов RETURNING без объявленного типа).
type dbTime struct{ time.Time }

func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(v, 0)
		return nil
	case nil:
		return errors.New("created_at: NULL")
	default:
		return fmt.Errorf("created_at: неподдерживаемый тип %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("created_at: не удалось разобрать %q", s)
}

// entryRow - строка таблицы diary_entries.
type entryRow struct {
	ID                int64           `db:"id"`
	UserID            string          `db:"user_id"`
	Caption           string          `db:"caption"`
	ImageURL          string          `db:"image_url"`
	LocationLat       sql.NullFloat64 `db:"location_lat"`
	LocationLng       sql.NullFloat64 `db:"location_lng"`
	ScreenWidth       int             `db:"screen_width"`
	ScreenHeight      int             `db:"screen_height"`
	ScreenOrientation string          `db:"screen_orientation"`
	CreatedAt         dbTime          `db:"created_at"`
	IsShared          bool            `db:"is_shared"`
	ShareID           sql.NullString  `db:"share_id"`
}

func (r entryRow) toModel() *models.Entry {
	e := &models.Entry{
		ID:       r.ID,
		UserID:   r.UserID,
		Caption:  r.Caption,
		ImageURL: r.ImageURL,
		ScreenInfo: models.ScreenInfo{
			Width:       r.ScreenWidth,
			Height:      r.ScreenHeight,
			Orientation: r.ScreenOrientation,
		},
		CreatedAt: r.CreatedAt.Time.UTC(),
		IsShared:  r.IsShared,
	}
	if r.LocationLat.Valid && r.LocationLng.Valid {
		e.Location = &models.Location{Lat: r.LocationLat.Float64, Lng: r.LocationLng.Float64}
	}
	if r.ShareID.Valid {
		id := r.ShareID.String
		e.ShareID = &id
	}
	return e
}

func (s *SQLStorage) CreateEntry(ctx context.Context, ownerID string, payload models.NewEntry) (*models.Entry, error) {
	p := payload.WithDefaults()

	var lat, lng sql.NullFloat64
	if p.Location != nil {
		lat = sql.NullFloat64{Float64: p.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: p.Location.Lng, Valid: true}
	}

	q := s.db.Rebind(`
		INSERT INTO diary_entries (user_id, caption, image_url, location_lat, location_lng,
			screen_width, screen_height, screen_orientation, created_at, is_shared, share_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		RETURNING ` + entryColumns)

	var row entryRow
	err := s.db.QueryRowxContext(ctx, q,
		ownerID, p.Caption, p.ImageURL, lat, lng,
		p.ScreenInfo.Width, p.ScreenInfo.Height, p.ScreenInfo.Orientation,
		s.opts.now().UTC(), false,
	).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса CreateEntry: %w", err)
	}

	s.opts.log.Infof("Запись создана: ID=%d, UserID=%s, есть координаты=%t", row.ID, ownerID, p.Location != nil)
	return row.toModel(), nil
}

func (s *SQLStorage) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	var row entryRow
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM diary_entries WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования GetEntry для ID %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *SQLStorage) GetEntriesByOwner(ctx context.Context, ownerID string) ([]models.Entry, error) {
	var rows []entryRow
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM diary_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса GetEntriesByOwner для %s: %w", ownerID, err)
	}

	result := make([]models.Entry, 0, len(rows))
	for _, r := range rows {
		result = append(result, *r.toModel())
	}
	// Порядок в SQLite определяется текстовым представлением времени; сортируем повторно по значению.
	sortNewestFirst(result)
	return result, nil
}

func (s *SQLStorage) DeleteEntry(ctx context.Context, id int64) error {
	q := s.db.Rebind(`DELETE FROM diary_entries WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса DeleteEntry для ID %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.opts.log.Infof("Запись ID=%d удалена.", id)
	}
	return nil
}

func (s *SQLStorage) UpdateEntrySharing(ctx context.Context, id int64, isShared bool, shareID string) (*models.Entry, error) {
	var (
		q    string
		args []interface{}
	)
	if isShared {
		// Кандидат на новый токен генерируется заранее: COALESCE возьмет его, только если
		// не передан явный токен и у записи еще нет своего. Все происходит одним UPDATE,
		// поэтому чтение текущего токена и запись нового атомарны.
		candidate, err := s.opts.newToken()
		if err != nil {
			return nil, fmt.Errorf("генерация токена: %w", err)
		}
		supplied := sql.NullString{String: shareID, Valid: shareID != ""}
		q = `UPDATE diary_entries
			SET is_shared = ?, share_id = COALESCE(?, share_id, ?)
			WHERE id = ?
			RETURNING ` + entryColumns
		args = []interface{}{true, supplied, candidate, id}
	} else {
		q = `UPDATE diary_entries SET is_shared = ?, share_id = NULL WHERE id = ? RETURNING ` + entryColumns
		args = []interface{}{false, id}
	}

	var row entryRow
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(q), args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrShareTokenConflict
		}
		return nil, fmt.Errorf("ошибка выполнения запроса UpdateEntrySharing для ID %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *SQLStorage) GetEntryByShareToken(ctx context.Context, token string) (*models.Entry, error) {
	var row entryRow
	// Условие is_shared обязательно: токен отозванной записи не должен открывать ее.
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM diary_entries WHERE share_id = ? AND is_shared = ?`)
	if err := s.db.GetContext(ctx, &row, q, token, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования GetEntryByShareToken: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
