// Package migrations содержит SQL-миграции схемы для каждого поддерживаемого диалекта.
package migrations

import "embed"

// FS хранит миграции goose: каталог sqlite/ для SQLite и postgres/ для PostgreSQL.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
