package confkit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands environment references in file and anchors relative
// results at base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(strings.TrimSpace(file))
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// Section is a config block kept in its own file. After Hydrate, File holds
// the resolved path and Value the parsed content.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Configured reports whether the section names a file or carries a value.
func (s Section[T]) Configured() bool {
	return strings.TrimSpace(s.File) != "" || s.Value != nil
}

// Hydrate loads File through loader. A section without File is left as is so
// callers may set Value directly.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return fmt.Errorf("section %s: %w", p, err)
	}
	if v == nil {
		return fmt.Errorf("section %s: loader returned no value", p)
	}
	s.File, s.Value = p, v
	return nil
}

// Must returns Value or an error when the section was never hydrated.
func (s Section[T]) Must() (*T, error) {
	if s.Value == nil {
		return nil, errors.New("config section not loaded")
	}
	return s.Value, nil
}
