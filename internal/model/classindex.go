// Package model contains the core domain types shared by the pipeline stages.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/lookalike/internal/common"
)

// ClassIndex maps label names to output indices. Names are kept in
// alphabetical order and the value is never modified after construction, so
// the same ClassIndex sizes the output head at training time and maps
// prediction indices back to labels afterwards.
type ClassIndex struct {
	names []string
	index map[string]int
}

// NewClassIndex builds a ClassIndex from label names in any order.
func NewClassIndex(names []string) (ClassIndex, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	index := make(map[string]int, len(sorted))
	for i, name := range sorted {
		if strings.TrimSpace(name) == "" {
			return ClassIndex{}, fmt.Errorf("%w: empty class name", common.ErrInput)
		}
		if _, dup := index[name]; dup {
			return ClassIndex{}, fmt.Errorf("%w: duplicate class name %q", common.ErrInput, name)
		}
		index[name] = i
	}

	return ClassIndex{names: sorted, index: index}, nil
}

// Len returns the number of classes.
func (c ClassIndex) Len() int {
	return len(c.names)
}

// Names returns a copy of the class names in index order.
func (c ClassIndex) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Name returns the label for index i.
func (c ClassIndex) Name(i int) (string, bool) {
	if i < 0 || i >= len(c.names) {
		return "", false
	}
	return c.names[i], true
}

// Index returns the index assigned to name.
func (c ClassIndex) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Equal reports whether both indices hold the same names in the same order.
func (c ClassIndex) Equal(other ClassIndex) bool {
	if len(c.names) != len(other.names) {
		return false
	}
	for i := range c.names {
		if c.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

func (c ClassIndex) String() string {
	return "[" + strings.Join(c.names, ", ") + "]"
}

// MarshalJSON encodes the index as its ordered list of names.
func (c ClassIndex) MarshalJSON() ([]byte, error) {
	if c.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.names)
}

// UnmarshalJSON decodes a list of names, re-validating order and uniqueness.
func (c *ClassIndex) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	ci, err := NewClassIndex(names)
	if err != nil {
		return err
	}
	*c = ci
	return nil
}
