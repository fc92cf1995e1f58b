package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xlttj/prtrelay/pkg/logging"

	_ "modernc.org/sqlite"
)

// SQLiteConfigStore manages mappings and projects persisted in SQLite
type SQLiteConfigStore struct {
	db               *sql.DB
	activeProject    *Project     // In-memory state only
	applied          []Mapping    // Mapping set as of the last Load/Reload
	previousMappings []Mapping    // Mapping set replaced by the last Reload
	mutex            sync.RWMutex // For thread-safe access
	dbPath           string
}

// DefaultDBPath returns ~/.prtrelay/prtrelay.db
func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".prtrelay", "prtrelay.db"), nil
}

// NewSQLiteConfigStore opens the store at the default location
func NewSQLiteConfigStore() (*SQLiteConfigStore, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, &ConfigLoadError{Path: "~/.prtrelay/prtrelay.db", Err: err}
	}
	return NewSQLiteConfigStoreAt(dbPath)
}

// NewSQLiteConfigStoreAt creates and initializes a SQLite store at dbPath
func NewSQLiteConfigStoreAt(dbPath string) (*SQLiteConfigStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, &ConfigLoadError{Path: dbPath, Err: fmt.Errorf("failed to create config directory: %w", err)}
	}

	// Create the file with restrictive permissions before the driver does
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		f, ferr := os.OpenFile(dbPath, os.O_CREATE|os.O_RDONLY, 0600)
		if ferr == nil {
			_ = f.Close()
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &ConfigLoadError{Path: dbPath, Err: fmt.Errorf("failed to open database: %w", err)}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &ConfigLoadError{Path: dbPath, Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	store := &SQLiteConfigStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, &ConfigLoadError{Path: dbPath, Err: fmt.Errorf("failed to initialize database schema: %w", err)}
	}
	if err := store.Load(); err != nil {
		db.Close()
		return nil, err
	}

	logging.LogDebug("SQLite config store initialized at: %s", dbPath)
	return store, nil
}

// initializeSchema creates the database tables and indexes
func (cs *SQLiteConfigStore) initializeSchema() error {
	schema := `
	-- Port mappings, keyed by local port
	CREATE TABLE IF NOT EXISTS mappings (
		local_port INTEGER PRIMARY KEY,
		remote_host TEXT NOT NULL,
		remote_port INTEGER NOT NULL
	);

	-- Projects for grouping
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL
	);

	-- Many-to-many relationship
	CREATE TABLE IF NOT EXISTS project_mappings (
		project_id INTEGER,
		local_port INTEGER,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		FOREIGN KEY (local_port) REFERENCES mappings(local_port) ON DELETE CASCADE,
		PRIMARY KEY (project_id, local_port)
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_remote_host ON mappings(remote_host);
	`

	if _, err := cs.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Path returns the database file location
func (cs *SQLiteConfigStore) Path() string {
	return cs.dbPath
}

// Close closes the database connection
func (cs *SQLiteConfigStore) Close() error {
	if cs.db != nil {
		return cs.db.Close()
	}
	return nil
}

// Mapping Operations

// Put inserts a mapping or replaces the one on the same local port
func (cs *SQLiteConfigStore) Put(m Mapping) error {
	if err := ValidateMapping(m); err != nil {
		return err
	}

	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	query := `
		INSERT INTO mappings (local_port, remote_host, remote_port)
		VALUES (?, ?, ?)
		ON CONFLICT(local_port) DO UPDATE SET remote_host = excluded.remote_host, remote_port = excluded.remote_port
	`
	if _, err := cs.db.Exec(query, m.LocalPort, m.RemoteHost, m.RemotePort); err != nil {
		return fmt.Errorf("failed to store mapping for port %d: %w", m.LocalPort, err)
	}

	logging.LogDebug("Stored mapping %s", m)
	return nil
}

// Delete removes the mapping on localPort and its project associations
func (cs *SQLiteConfigStore) Delete(localPort int) error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	tx, err := cs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec("DELETE FROM project_mappings WHERE local_port = ?", localPort); err != nil {
		return fmt.Errorf("failed to remove project associations: %w", err)
	}

	result, err := tx.Exec("DELETE FROM mappings WHERE local_port = ?", localPort)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: local port %d", ErrConfigNotFound, localPort)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.LogDebug("Deleted mapping for local port %d", localPort)
	return nil
}

// GetAll returns all mappings ordered by local port
func (cs *SQLiteConfigStore) GetAll() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.getAllUnsafe()
}

// Len returns the number of mappings
func (cs *SQLiteConfigStore) Len() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	var count int
	if err := cs.db.QueryRow("SELECT COUNT(*) FROM mappings").Scan(&count); err != nil {
		logging.LogError("Failed to count mappings: %v", err)
		return 0
	}
	return count
}

// Get returns the mapping on localPort
func (cs *SQLiteConfigStore) Get(localPort int) (Mapping, bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	query := `SELECT local_port, remote_host, remote_port FROM mappings WHERE local_port = ?`

	var m Mapping
	err := cs.db.QueryRow(query, localPort).Scan(&m.LocalPort, &m.RemoteHost, &m.RemotePort)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.LogError("Failed to query mapping for port %d: %v", localPort, err)
		}
		return Mapping{}, false
	}
	return m, true
}

// GetWithError is similar to Get but returns an error for better context
func (cs *SQLiteConfigStore) GetWithError(localPort int) (Mapping, error) {
	m, ok := cs.Get(localPort)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: local port %d", ErrConfigNotFound, localPort)
	}
	return m, nil
}

// Skipped always returns nil; rows are validated when they are stored
func (cs *SQLiteConfigStore) Skipped() []error {
	return nil
}

// Project Operations

// SaveProject creates a project or replaces the members of an existing one
func (cs *SQLiteConfigStore) SaveProject(name string, localPorts []int) error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}

	tx, err := cs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec("INSERT OR IGNORE INTO projects (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	var projectID int64
	if err = tx.QueryRow("SELECT id FROM projects WHERE name = ?", name).Scan(&projectID); err != nil {
		return fmt.Errorf("failed to get project ID: %w", err)
	}

	if _, err = tx.Exec("DELETE FROM project_mappings WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("failed to reset project members: %w", err)
	}

	for _, port := range localPorts {
		var exists int
		if err = tx.QueryRow("SELECT COUNT(*) FROM mappings WHERE local_port = ?", port).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up local port %d: %w", port, err)
		}
		if exists == 0 {
			return fmt.Errorf("project '%s' references unknown local port %d", name, port)
		}
		if _, err = tx.Exec("INSERT INTO project_mappings (project_id, local_port) VALUES (?, ?)", projectID, port); err != nil {
			return fmt.Errorf("failed to add mapping to project: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.LogDebug("Saved project: %s with %d mappings", name, len(localPorts))
	return nil
}

// GetProjects returns all projects with their member ports
func (cs *SQLiteConfigStore) GetProjects() []Project {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.getProjectsUnsafe()
}

// DeleteProject deletes a project by name
func (cs *SQLiteConfigStore) DeleteProject(name string) error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if cs.activeProject != nil && cs.activeProject.Name == name {
		cs.activeProject = nil
		logging.LogDebug("Cleared active project because '%s' was deleted", name)
	}

	tx, err := cs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec("DELETE FROM project_mappings WHERE project_id IN (SELECT id FROM projects WHERE name = ?)", name); err != nil {
		return fmt.Errorf("failed to remove project members: %w", err)
	}

	result, err := tx.Exec("DELETE FROM projects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project '%s' does not exist", name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.LogDebug("Deleted project: %s", name)
	return nil
}

// In-Memory State Management

// SetActiveProject sets the active project by name (in-memory only)
func (cs *SQLiteConfigStore) SetActiveProject(name string) error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if name == "" {
		cs.activeProject = nil
		logging.LogDebug("Cleared active project")
		return nil
	}

	for _, p := range cs.getProjectsUnsafe() {
		if p.Name == name {
			cs.activeProject = copyProject(p)
			logging.LogDebug("Set active project to: %s", name)
			return nil
		}
	}

	return fmt.Errorf("project not found: %s", name)
}

// GetActiveProject returns the currently active project (in-memory only)
func (cs *SQLiteConfigStore) GetActiveProject() *Project {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.activeProject
}

// ClearActiveProject clears the currently active project (in-memory only)
func (cs *SQLiteConfigStore) ClearActiveProject() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.activeProject = nil
	logging.LogDebug("Cleared active project")
}

// GetActiveProjectName returns the name of the active project (empty string if none)
func (cs *SQLiteConfigStore) GetActiveProjectName() string {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if cs.activeProject == nil {
		return ""
	}
	return cs.activeProject.Name
}

// GetActiveProjectForwards returns the mappings of the active project
func (cs *SQLiteConfigStore) GetActiveProjectForwards() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return activeForwards(cs.activeProject, cs.getAllUnsafe())
}

// Lifecycle

// Load snapshots the current mapping set
func (cs *SQLiteConfigStore) Load() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.applied = cs.getAllUnsafe()
	return nil
}

// Reload takes a new snapshot and remembers the previous one for comparison
func (cs *SQLiteConfigStore) Reload() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if err := cs.db.Ping(); err != nil {
		return fmt.Errorf("config reload failed, kept previous config: %w", err)
	}
	cs.previousMappings = cs.applied
	cs.applied = cs.getAllUnsafe()

	if cs.activeProject != nil {
		name := cs.activeProject.Name
		cs.activeProject = nil
		for _, p := range cs.getProjectsUnsafe() {
			if p.Name == name {
				cs.activeProject = copyProject(p)
			}
		}
		if cs.activeProject == nil {
			logging.LogDebug("Active project '%s' no longer exists after reload, cleared", name)
		}
	}
	return nil
}

// GetPrevious returns the mapping set replaced by the last Reload
func (cs *SQLiteConfigStore) GetPrevious() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if cs.previousMappings == nil {
		return nil
	}
	previousCopy := make([]Mapping, len(cs.previousMappings))
	copy(previousCopy, cs.previousMappings)
	return previousCopy
}

// Helper methods (must be called with mutex already held)

func (cs *SQLiteConfigStore) getAllUnsafe() []Mapping {
	query := `SELECT local_port, remote_host, remote_port FROM mappings ORDER BY local_port`

	rows, err := cs.db.Query(query)
	if err != nil {
		logging.LogError("Failed to query mappings: %v", err)
		return []Mapping{}
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.LocalPort, &m.RemoteHost, &m.RemotePort); err != nil {
			logging.LogError("Failed to scan mapping row: %v", err)
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings
}

func (cs *SQLiteConfigStore) getProjectsUnsafe() []Project {
	rows, err := cs.db.Query(`SELECT id, name FROM projects ORDER BY name`)
	if err != nil {
		logging.LogError("Failed to query projects: %v", err)
		return []Project{}
	}

	type projectRow struct {
		id   int64
		name string
	}
	var found []projectRow
	for rows.Next() {
		var r projectRow
		if err := rows.Scan(&r.id, &r.name); err != nil {
			logging.LogError("Failed to scan project row: %v", err)
			continue
		}
		found = append(found, r)
	}
	rows.Close()

	var projects []Project
	for _, r := range found {
		project := Project{Name: r.name}

		pmRows, err := cs.db.Query(`SELECT local_port FROM project_mappings WHERE project_id = ? ORDER BY local_port`, r.id)
		if err != nil {
			logging.LogError("Failed to query project mappings: %v", err)
			continue
		}
		for pmRows.Next() {
			var port int
			if err := pmRows.Scan(&port); err != nil {
				logging.LogError("Failed to scan project member: %v", err)
				continue
			}
			project.Forwards = append(project.Forwards, port)
		}
		pmRows.Close()

		projects = append(projects, project)
	}
	return projects
}
