package registry

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPort is filled in for records saved without a port.
const DefaultPort = 22

var (
	// ErrDuplicateName is returned when adding a server whose name is taken.
	ErrDuplicateName = errors.New("server name already exists")
	// ErrNotFound is returned when no server has the requested name.
	ErrNotFound = errors.New("server not found")
)

// Server is one known remote endpoint. Name is unique within a registry.
type Server struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
}

// Validate checks that the server has all required fields and defaults the
// port.
func (s *Server) Validate() error {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "name is required")
	}
	if strings.ContainsAny(s.Name, "\n\r") {
		errs = append(errs, "name must be a single line")
	}
	if s.Address == "" {
		errs = append(errs, "address is required")
	}
	if s.Username == "" {
		errs = append(errs, "username is required")
	}

	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d", s.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("server validation errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// String renders the server as name (username@address:port).
func (s Server) String() string {
	return fmt.Sprintf("%s (%s@%s:%d)", s.Name, s.Username, s.Address, s.Port)
}
