package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xlttj/prtrelay/pkg/logging"
)

// FileConfigStore serves mappings read from a properties or YAML file
type FileConfigStore struct {
	mappings         []Mapping
	previousMappings []Mapping // For reload comparison
	projects         []Project
	previousProjects []Project
	skipped          []error
	activeProject    *Project     // Only one active project at a time
	mutex            sync.RWMutex // For thread-safe access
	filePath         string
}

// expandHomeDir replaces the leading ~ with the user's home directory
func expandHomeDir(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, path[1:]), nil
}

// NewFileConfigStore loads the file at path and returns a new store
func NewFileConfigStore(path string) (*FileConfigStore, error) {
	expandedPath, err := expandHomeDir(path)
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}

	store := &FileConfigStore{filePath: expandedPath}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the resolved file path
func (cs *FileConfigStore) Path() string {
	return cs.filePath
}

// Load reads the configuration from the file
func (cs *FileConfigStore) Load() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	return cs.loadFromDisk()
}

// loadFromDisk performs the actual file reading and parsing
func (cs *FileConfigStore) loadFromDisk() error {
	result, err := LoadFile(cs.filePath)
	if err != nil {
		return err
	}

	cs.mappings = result.Mappings
	cs.projects = result.Projects
	cs.skipped = result.Skipped
	for _, skipped := range result.Skipped {
		logging.LogError("Skipping entry in %s: %v", cs.filePath, skipped)
	}

	logging.LogDebug("Loaded %d mappings and %d projects from %s", len(cs.mappings), len(cs.projects), cs.filePath)
	return nil
}

// Reload re-reads the file, keeping the previous mapping set on failure
func (cs *FileConfigStore) Reload() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	previousMappings := cs.mappings
	previousProjects := cs.projects
	previousSkipped := cs.skipped

	var activeProjectName string
	if cs.activeProject != nil {
		activeProjectName = cs.activeProject.Name
	}

	if err := cs.loadFromDisk(); err != nil {
		cs.mappings = previousMappings
		cs.projects = previousProjects
		cs.skipped = previousSkipped
		return fmt.Errorf("config reload failed, kept previous config: %w", err)
	}
	cs.previousMappings = previousMappings
	cs.previousProjects = previousProjects

	// Try to restore active project if it still exists
	if activeProjectName != "" {
		if err := cs.setActiveProjectUnsafe(activeProjectName); err != nil {
			logging.LogDebug("Active project '%s' no longer exists after reload, cleared", activeProjectName)
			cs.activeProject = nil
		}
	}

	logging.LogDebug("Configuration reloaded: %d mappings (was %d), %d projects (was %d)",
		len(cs.mappings), len(cs.previousMappings), len(cs.projects), len(cs.previousProjects))
	return nil
}

// GetPrevious returns the mapping set that was replaced by the last Reload
func (cs *FileConfigStore) GetPrevious() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if cs.previousMappings == nil {
		return nil
	}
	previousCopy := make([]Mapping, len(cs.previousMappings))
	copy(previousCopy, cs.previousMappings)
	return previousCopy
}

// GetAll returns a copy of all mappings
func (cs *FileConfigStore) GetAll() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	mappingsCopy := make([]Mapping, len(cs.mappings))
	copy(mappingsCopy, cs.mappings)
	return mappingsCopy
}

// Len returns the number of mappings
func (cs *FileConfigStore) Len() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return len(cs.mappings)
}

// Get returns the mapping for a local port
func (cs *FileConfigStore) Get(localPort int) (Mapping, bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	for _, m := range cs.mappings {
		if m.LocalPort == localPort {
			return m, true
		}
	}
	return Mapping{}, false
}

// GetWithError is similar to Get but returns an error for better context
func (cs *FileConfigStore) GetWithError(localPort int) (Mapping, error) {
	m, ok := cs.Get(localPort)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: local port %d", ErrConfigNotFound, localPort)
	}
	return m, nil
}

// Skipped returns the malformed entries reported by the last successful load
func (cs *FileConfigStore) Skipped() []error {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return append([]error(nil), cs.skipped...)
}

// GetProjects returns a copy of all projects
func (cs *FileConfigStore) GetProjects() []Project {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	projectsCopy := make([]Project, len(cs.projects))
	for i, p := range cs.projects {
		projectsCopy[i] = *copyProject(p)
	}
	return projectsCopy
}

// GetActiveProject returns the currently active project (or nil if none)
func (cs *FileConfigStore) GetActiveProject() *Project {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.activeProject
}

// SetActiveProject sets the active project by name
func (cs *FileConfigStore) SetActiveProject(name string) error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if name == "" {
		cs.activeProject = nil
		logging.LogDebug("Cleared active project")
		return nil
	}
	if err := cs.setActiveProjectUnsafe(name); err != nil {
		return err
	}
	logging.LogDebug("Set active project to: %s", name)
	return nil
}

// setActiveProjectUnsafe sets the active project without acquiring mutex (for internal use)
func (cs *FileConfigStore) setActiveProjectUnsafe(name string) error {
	for _, project := range cs.projects {
		if project.Name == name {
			cs.activeProject = copyProject(project)
			return nil
		}
	}
	return fmt.Errorf("project not found: %s", name)
}

// ClearActiveProject clears the currently active project
func (cs *FileConfigStore) ClearActiveProject() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.activeProject = nil
	logging.LogDebug("Cleared active project")
}

// GetActiveProjectName returns the name of the active project (empty string if none)
func (cs *FileConfigStore) GetActiveProjectName() string {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if cs.activeProject == nil {
		return ""
	}
	return cs.activeProject.Name
}

// GetActiveProjectForwards returns the mappings of the active project.
// Returns all mappings if no project is active
func (cs *FileConfigStore) GetActiveProjectForwards() []Mapping {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return activeForwards(cs.activeProject, cs.mappings)
}

// Close is a no-op for file stores
func (cs *FileConfigStore) Close() error {
	return nil
}
