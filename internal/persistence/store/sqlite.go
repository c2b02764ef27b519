package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the durable city store. It offers plain transactional writes;
// the city manager's per-city locks provide the read-modify-write atomicity
// on top.
type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for small frequent upserts.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cities (
			city_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cities_player ON cities(player_id);`,
		`CREATE TABLE IF NOT EXISTS actions (
			action_id TEXT PRIMARY KEY,
			city_id TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_city ON actions(city_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) LoadCity(ctx context.Context, cityID string) ([]byte, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM cities WHERE city_id = ?`, cityID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(state), true, nil
}

func (s *SQLite) FindCityByPlayer(ctx context.Context, playerID string) (string, []byte, bool, error) {
	var cityID, state string
	err := s.db.QueryRowContext(ctx,
		`SELECT city_id, state FROM cities WHERE player_id = ? ORDER BY updated_at DESC LIMIT 1`,
		playerID).Scan(&cityID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}
	return cityID, []byte(state), true, nil
}

func (s *SQLite) SaveCity(ctx context.Context, cityID, playerID, name string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cities (city_id, player_id, name, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(city_id) DO UPDATE SET
		   player_id = excluded.player_id,
		   name = excluded.name,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		cityID, playerID, name, string(blob), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) IndexAction(ctx context.Context, actionID, cityID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (action_id, city_id, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(action_id) DO UPDATE SET
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		actionID, cityID, status, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// CityRow and ActionRow are flat listings for the admin tool; the city
// state blob stays out of them.
type CityRow struct {
	CityID    string
	PlayerID  string
	Name      string
	UpdatedAt string
}

type ActionRow struct {
	ActionID  string
	CityID    string
	Status    string
	UpdatedAt string
}

func (s *SQLite) ListCities(ctx context.Context) ([]CityRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT city_id, player_id, name, updated_at FROM cities ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CityRow
	for rows.Next() {
		var r CityRow
		if err := rows.Scan(&r.CityID, &r.PlayerID, &r.Name, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) ActionsForCity(ctx context.Context, cityID string) ([]ActionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, city_id, status, updated_at FROM actions
		 WHERE city_id = ? ORDER BY updated_at`, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		var r ActionRow
		if err := rows.Scan(&r.ActionID, &r.CityID, &r.Status, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) CityForAction(ctx context.Context, actionID string) (string, bool, error) {
	var cityID string
	err := s.db.QueryRowContext(ctx,
		`SELECT city_id FROM actions WHERE action_id = ?`, actionID).Scan(&cityID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cityID, true, nil
}
