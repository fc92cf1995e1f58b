package config

import (
	"fmt"
	"net"
	"strconv"
)

// Mapping forwards one local listening port to a fixed remote host/port.
// Mappings are values; nothing mutates a Mapping after it has been loaded.
type Mapping struct {
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// RemoteAddr returns the dialable host:port of the remote target.
func (m Mapping) RemoteAddr() string {
	return net.JoinHostPort(m.RemoteHost, strconv.Itoa(m.RemotePort))
}

// Target returns the mapping value in its configuration form (host:port).
func (m Mapping) Target() string {
	return fmt.Sprintf("%s:%d", m.RemoteHost, m.RemotePort)
}

func (m Mapping) String() string {
	return fmt.Sprintf(":%d -> %s", m.LocalPort, m.Target())
}

// Project represents a named subset of mappings that can be started together
type Project struct {
	Name     string `yaml:"name"`
	Forwards []int  `yaml:"forwards"` // Local ports of the member mappings
}

// ConfigFile is the YAML layout of a mapping file
type ConfigFile struct {
	Mappings map[string]string `yaml:"mappings"`
	Projects []Project         `yaml:"projects,omitempty"`
}

// LoadResult is the outcome of reading one mapping source
type LoadResult struct {
	Mappings []Mapping
	Projects []Project
	Skipped  []error // Malformed entries that were reported and left out
}
