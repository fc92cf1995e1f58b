package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// ParseEntry turns one "localPort" -> "host:port" entry into a Mapping.
func ParseEntry(key, value string) (Mapping, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	localPort, err := parsePort(key)
	if err != nil {
		return Mapping{}, &MalformedEntryError{Key: key, Value: value, Reason: fmt.Sprintf("local port: %v", err)}
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return Mapping{}, &MalformedEntryError{Key: key, Value: value, Reason: "expected exactly one host:port pair"}
	}
	host := strings.TrimSpace(parts[0])
	if host == "" {
		return Mapping{}, &MalformedEntryError{Key: key, Value: value, Reason: "empty remote host"}
	}
	remotePort, err := parsePort(parts[1])
	if err != nil {
		return Mapping{}, &MalformedEntryError{Key: key, Value: value, Reason: fmt.Sprintf("remote port: %v", err)}
	}

	return Mapping{LocalPort: localPort, RemoteHost: host, RemotePort: remotePort}, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%d is out of range 1-65535", port)
	}
	return port, nil
}

// ValidateMapping checks a Mapping built outside ParseEntry.
func ValidateMapping(m Mapping) error {
	_, err := ParseEntry(strconv.Itoa(m.LocalPort), m.Target())
	return err
}

// ParseMappings parses every entry, skipping malformed ones.
// The result is sorted by local port.
func ParseMappings(entries map[string]string) ([]Mapping, []error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mappings []Mapping
	var skipped []error
	seen := make(map[int]string)
	for _, k := range keys {
		m, err := ParseEntry(k, entries[k])
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		// "9000" and " 9000" are distinct keys that name the same port
		if prev, dup := seen[m.LocalPort]; dup {
			skipped = append(skipped, &MalformedEntryError{Key: k, Value: entries[k], Reason: fmt.Sprintf("duplicate of entry %q", prev)})
			continue
		}
		seen[m.LocalPort] = k
		mappings = append(mappings, m)
	}

	sort.Slice(mappings, func(i, j int) bool { return mappings[i].LocalPort < mappings[j].LocalPort })
	return mappings, skipped
}

// LoadFile reads a mapping source. The format follows the file extension:
// .yaml/.yml is YAML, anything else is a Java-style properties file.
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}

	var result *LoadResult
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		result, err = parseYAML(data)
	default:
		result, err = parseProperties(data)
	}
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}
	return result, nil
}

func parseProperties(data []byte) (*LoadResult, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}

	entries := make(map[string]string, p.Len())
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		entries[k] = v
	}

	mappings, skipped := ParseMappings(entries)
	return &LoadResult{Mappings: mappings, Skipped: skipped}, nil
}

func parseYAML(data []byte) (*LoadResult, error) {
	var cfgFile ConfigFile
	if err := yaml.Unmarshal(data, &cfgFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	mappings, skipped := ParseMappings(cfgFile.Mappings)
	if err := validateProjects(cfgFile.Projects, mappings); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &LoadResult{Mappings: mappings, Projects: cfgFile.Projects, Skipped: skipped}, nil
}

// validateProjects checks project names are unique and non-empty and that
// every referenced local port exists
func validateProjects(projects []Project, mappings []Mapping) error {
	ports := make(map[int]bool, len(mappings))
	for _, m := range mappings {
		ports[m.LocalPort] = true
	}

	names := make(map[string]bool)
	for i, project := range projects {
		if project.Name == "" {
			return fmt.Errorf("project at index %d has empty name", i)
		}
		if strings.TrimSpace(project.Name) != project.Name {
			return fmt.Errorf("project name '%s' contains leading/trailing whitespace", project.Name)
		}
		if names[project.Name] {
			return fmt.Errorf("duplicate project name: '%s'", project.Name)
		}
		names[project.Name] = true

		for _, port := range project.Forwards {
			if !ports[port] {
				return fmt.Errorf("project '%s' references unknown local port %d", project.Name, port)
			}
		}
	}
	return nil
}

// MarshalYAML renders mappings and projects in the YAML file layout.
func MarshalYAML(mappings []Mapping, projects []Project) ([]byte, error) {
	cfgFile := ConfigFile{
		Mappings: make(map[string]string, len(mappings)),
		Projects: projects,
	}
	for _, m := range mappings {
		cfgFile.Mappings[strconv.Itoa(m.LocalPort)] = m.Target()
	}
	return yaml.Marshal(&cfgFile)
}
