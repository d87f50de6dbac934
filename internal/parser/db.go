package parser

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/model"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cfg_class_action (
	class_id INTEGER NOT NULL PRIMARY KEY,
	action_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cfg_action_destination (
	action_id INTEGER NOT NULL PRIMARY KEY,
	host VARCHAR(64) NULL,
	port INTEGER NULL
)`

// MappingStore keeps the class -> action -> destination mapping in MariaDB
// or SQLite. A NULL or empty host marks a drop action.
type MappingStore struct {
	db *sql.DB
}

func NewMappingStore(provider, dsn string) (*MappingStore, error) {
	var driver string
	switch provider {
	case config.ProviderMariaDB:
		driver = "mysql"
	case config.ProviderSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported mapping store provider: %s", provider)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &MappingStore{db: db}, nil
}

func (s *MappingStore) Close() {
	s.db.Close()
}

// InitSchema creates the mapping tables if they do not exist. Statements
// are executed one at a time since the MySQL driver rejects multi-statement
// queries by default.
func (s *MappingStore) InitSchema() error {
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *MappingStore) Load() (model.ActionMapping, error) {
	m := model.ActionMapping{
		Classes: make(map[int]int),
		Actions: make(map[int]*model.Destination),
	}
	if err := s.loadClasses(m.Classes); err != nil {
		return model.ActionMapping{}, fmt.Errorf("failed to load classes: %w", err)
	}
	if err := s.loadActions(m.Actions); err != nil {
		return model.ActionMapping{}, fmt.Errorf("failed to load actions: %w", err)
	}
	slog.Debug("Mapping loaded from database", "classes", len(m.Classes), "actions", len(m.Actions))
	return m, nil
}

func (s *MappingStore) loadClasses(classes map[int]int) error {
	rows, err := s.db.Query("SELECT class_id, action_id FROM cfg_class_action ORDER BY class_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var class, action int
		if err := rows.Scan(&class, &action); err != nil {
			return err
		}
		classes[class] = action
	}
	return rows.Err()
}

func (s *MappingStore) loadActions(actions map[int]*model.Destination) error {
	rows, err := s.db.Query("SELECT action_id, host, port FROM cfg_action_destination ORDER BY action_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var host sql.NullString
		var port sql.NullInt64
		if err := rows.Scan(&id, &host, &port); err != nil {
			return err
		}
		if port.Int64 < 0 || port.Int64 > 65535 {
			return fmt.Errorf("action %d: port %d out of range", id, port.Int64)
		}
		dest, err := config.ParseDestination(host.String, uint16(port.Int64))
		if err != nil {
			return fmt.Errorf("action %d: %w", id, err)
		}
		actions[id] = dest
	}
	return rows.Err()
}

// Save replaces the stored mapping with m in a single transaction.
func (s *MappingStore) Save(m model.ActionMapping) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cfg_class_action"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM cfg_action_destination"); err != nil {
		return err
	}
	for _, class := range sortedKeys(m.Classes) {
		if _, err := tx.Exec("INSERT INTO cfg_class_action (class_id, action_id) VALUES (?, ?)", class, m.Classes[class]); err != nil {
			return fmt.Errorf("class %d: %w", class, err)
		}
	}
	for _, id := range sortedKeys(m.Actions) {
		var host sql.NullString
		var port sql.NullInt64
		if dest := m.Actions[id]; dest != nil {
			host = sql.NullString{String: dest.Host.String(), Valid: true}
			port = sql.NullInt64{Int64: int64(dest.Port), Valid: true}
		}
		if _, err := tx.Exec("INSERT INTO cfg_action_destination (action_id, host, port) VALUES (?, ?, ?)", id, host, port); err != nil {
			return fmt.Errorf("action %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func splitStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
