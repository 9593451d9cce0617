// Package registry persists the list of known servers as a YAML sequence of
// {name, address, port, username} records. Every change reads the whole file
// and writes it back; writes are not atomic and the file carries no version.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Registry is a flat-file server list. The mutex serializes changes made
// through one Registry; other processes editing the file are not excluded.
type Registry struct {
	path string
	mu   sync.Mutex
}

// New returns a registry stored at path. A leading ~ is expanded.
func New(path string) (*Registry, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand registry path: %w", err)
	}
	return &Registry{path: expanded}, nil
}

// Path returns the expanded file path.
func (r *Registry) Path() string {
	return r.path
}

// List returns every server in file order. A missing file is an empty list.
func (r *Registry) List() ([]Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Find returns the server called name.
func (r *Registry) Find(name string) (Server, error) {
	servers, err := r.List()
	if err != nil {
		return Server{}, err
	}
	for _, s := range servers {
		if s.Name == name {
			return s, nil
		}
	}
	return Server{}, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// Add appends s. The name must not already exist.
func (r *Registry) Add(s Server) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.load()
	if err != nil {
		return err
	}
	for _, existing := range servers {
		if existing.Name == s.Name {
			return fmt.Errorf("%q: %w", s.Name, ErrDuplicateName)
		}
	}
	return r.save(append(servers, s))
}

// Remove deletes the server called name and reports whether it existed.
// Removing an absent name is not an error and leaves the file untouched.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.load()
	if err != nil {
		return false, err
	}

	kept := servers[:0]
	found := false
	for _, s := range servers {
		if s.Name == name {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return false, nil
	}
	return true, r.save(kept)
}

func (r *Registry) load() ([]Server, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Server{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file %s: %w", r.path, err)
	}

	var servers []Server
	if err := yaml.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if servers == nil {
		servers = []Server{}
	}

	for i := range servers {
		if err := servers[i].Validate(); err != nil {
			return nil, fmt.Errorf("validate server #%d (%s): %w", i, servers[i].Name, err)
		}
	}
	return servers, nil
}

func (r *Registry) save(servers []Server) error {
	data, err := yaml.Marshal(servers)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	return nil
}
