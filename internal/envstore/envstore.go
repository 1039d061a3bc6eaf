// Package envstore implements the EnvStore data model: a mapping from
// scenario variable name to string value, with CLI overrides taking
// precedence over scenario-file defaults per spec.md §3.
package envstore

// Store holds scenario environment variables.
type Store struct {
	vals map[string]string
}

// New builds a Store from scenario-file defaults, then applies CLI
// overrides on top (later writes win), matching spec.md's precedence
// rule.
func New(defaults, overrides map[string]string) *Store {
	s := &Store{vals: make(map[string]string, len(defaults)+len(overrides))}
	for k, v := range defaults {
		s.vals[k] = v
	}
	for k, v := range overrides {
		s.vals[k] = v
	}
	return s
}

// Lookup returns the value for name and whether it was found.
func (s *Store) Lookup(name string) (string, bool) {
	v, ok := s.vals[name]
	return v, ok
}

// Set assigns or overrides a single variable.
func (s *Store) Set(name, value string) {
	s.vals[name] = value
}
