package config

// ConfigStoreInterface defines the interface for mapping storage
type ConfigStoreInterface interface {
	// Mapping Operations
	GetAll() []Mapping
	Len() int
	Get(localPort int) (Mapping, bool)
	GetWithError(localPort int) (Mapping, error)
	Skipped() []error

	// Project Operations
	GetProjects() []Project

	// Active Project Management (in-memory state)
	SetActiveProject(name string) error
	GetActiveProject() *Project
	ClearActiveProject()
	GetActiveProjectName() string
	GetActiveProjectForwards() []Mapping

	// Lifecycle
	Load() error
	Reload() error
	GetPrevious() []Mapping
	Close() error
}

// NewConfigStore opens the mapping file at path, or the SQLite store at
// dbPath when path is empty. An empty dbPath selects the default database.
func NewConfigStore(path, dbPath string) (ConfigStoreInterface, error) {
	if path != "" {
		return NewFileConfigStore(path)
	}
	if dbPath != "" {
		return NewSQLiteConfigStoreAt(dbPath)
	}
	return NewSQLiteConfigStore()
}

// activeForwards resolves a project against a mapping set
func activeForwards(project *Project, mappings []Mapping) []Mapping {
	if project == nil {
		out := make([]Mapping, len(mappings))
		copy(out, mappings)
		return out
	}
	byPort := make(map[int]Mapping, len(mappings))
	for _, m := range mappings {
		byPort[m.LocalPort] = m
	}
	var out []Mapping
	for _, port := range project.Forwards {
		if m, ok := byPort[port]; ok {
			out = append(out, m)
		}
	}
	return out
}

func copyProject(p Project) *Project {
	return &Project{Name: p.Name, Forwards: append([]int{}, p.Forwards...)}
}
