// Package migrations embeds the SQL schema of the intent stores.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// SQLiteFS embeds all SQLite migration files.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS

// Migration is one embedded SQL file
type Migration struct {
	Name string
	SQL  string
}

// Load reads the .sql files of dir in lexical order, skipping empty ones.
// Migrations are expected to be idempotent.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var result []Migration
	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		result = append(result, Migration{Name: file, SQL: string(data)})
	}
	return result, nil
}

// Postgres returns the PostgreSQL migrations
func Postgres() ([]Migration, error) {
	return Load(PostgresFS, "postgres")
}

// SQLite returns the SQLite migrations
func SQLite() ([]Migration, error) {
	return Load(SQLiteFS, "sqlite")
}
