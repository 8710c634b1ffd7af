package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey сериализует миграции между репликами сервиса: вторая
// реплика ждёт на pg_advisory_lock, пока первая не закончит накат схемы.
const (
	scriptsGlob     = "sql/migrations/*.sql"
	advisoryLockKey = int64(20260417)
	lockTimeout     = 5 * time.Second
)

const versionTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Имя файла: <версия>_<имя>.<up|down>.sql, версия задаёт порядок наката.
var scriptNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationScript — пара up/down выражений одной версии схемы.
type migrationScript struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrateUp накатывает недостающие миграции в порядке возрастания версий.
// steps=0 — накатить все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return rollForward(ctx, conn, scripts, steps)
	})
}

// MigrateDown откатывает последние применённые миграции. steps<=0
// трактуется как один шаг, чтобы случайный вызов не снёс всю схему.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return rollBack(ctx, conn, scripts, steps)
	})
}

// MigrationStatus возвращает максимальную применённую версию и число
// применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, versionTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

// withMigrationLock захватывает advisory lock на выделенном соединении,
// гарантирует таблицу версий и передаёт управление направлению наката.
func (s *Store) withMigrationLock(ctx context.Context, run func(*sql.Conn, []migrationScript) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	scripts, err := parseMigrationScripts(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockKey)
	}()

	if _, err := conn.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	return run(conn, scripts)
}

func rollForward(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	applied, err := appliedVersionSet(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range scripts {
		if applied[script.Version] {
			continue
		}

		label := fmt.Sprintf("up migration %d_%s", script.Version, script.Name)
		err := applyInTx(ctx, conn, label, script.Up,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
			script.Version, script.Name)
		if err != nil {
			return err
		}

		done++
		if steps > 0 && done >= steps {
			return nil
		}
	}

	return nil
}

func rollBack(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	byVersion := make(map[int64]migrationScript, len(scripts))
	for _, script := range scripts {
		byVersion[script.Version] = script
	}

	versions, err := lastAppliedVersions(ctx, conn, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		script, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}

		label := fmt.Sprintf("down migration %d_%s", script.Version, script.Name)
		err := applyInTx(ctx, conn, label, script.Down,
			`DELETE FROM schema_migrations WHERE version = $1`, script.Version)
		if err != nil {
			return err
		}
	}

	return nil
}

// applyInTx выполняет тело миграции и запись в таблицу версий одной
// транзакцией: наполовину применённая миграция не остаётся учтённой.
func applyInTx(ctx context.Context, conn *sql.Conn, label, body, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", label, err)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s: %w", label, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", label, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", label, err)
	}
	return nil
}

func appliedVersionSet(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return applied, nil
}

func lastAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query last applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan last applied version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last applied migrations: %w", err)
	}

	return versions, nil
}

// parseMigrationScripts читает каталог миграций и склеивает up/down файлы
// одной версии. Непарные, пустые и дублирующиеся файлы — ошибка сборки
// списка, а не тихий пропуск.
func parseMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	files, err := fs.Glob(fsys, scriptsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration scripts found")
	}

	type halves struct {
		name string
		up   string
		down string
	}
	paired := make(map[int64]halves)

	for _, file := range files {
		base := filepath.Base(file)
		parts := scriptNamePattern.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration script %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration script is empty: %s", base)
		}

		pair, seen := paired[version]
		if !seen {
			pair.name = parts[2]
		} else if pair.name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, pair.name, parts[2])
		}

		switch parts[3] {
		case "up":
			if pair.up != "" {
				return nil, fmt.Errorf("duplicate up script for version %d", version)
			}
			pair.up = body
		case "down":
			if pair.down != "" {
				return nil, fmt.Errorf("duplicate down script for version %d", version)
			}
			pair.down = body
		}
		paired[version] = pair
	}

	versions := make([]int64, 0, len(paired))
	for version := range paired {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	scripts := make([]migrationScript, 0, len(versions))
	for _, version := range versions {
		pair := paired[version]
		if pair.up == "" || pair.down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down scripts", version, pair.name)
		}
		scripts = append(scripts, migrationScript{
			Version: version,
			Name:    pair.name,
			Up:      pair.up,
			Down:    pair.down,
		})
	}

	return scripts, nil
}
