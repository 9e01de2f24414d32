package engine

import (
	"encoding/json"
	"sort"
)

// ExclusionReason records why a VM is kept out of shutdown.
type ExclusionReason string

const (
	// ReasonManagementPlane marks the VM hosting the management plane.
	ReasonManagementPlane ExclusionReason = "management-plane"

	// ReasonFileService marks a VM backing a file server.
	ReasonFileService ExclusionReason = "file-service"

	// ReasonPolicy marks a VM named by a protection policy.
	ReasonPolicy ExclusionReason = "policy"
)

// Exclusion is one member of an ExclusionSet.
type Exclusion struct {
	Name   string          `json:"name" yaml:"name"`
	Reason ExclusionReason `json:"reason" yaml:"reason"`
}

// ExclusionSet is the set of VM names never targeted by a power command.
// It is built once by the Classifier and read-only afterwards. A name keeps
// the first reason it was added with.
type ExclusionSet struct {
	reasons map[string]ExclusionReason
	order   []string
}

// NewExclusionSet creates a set holding entries.
func NewExclusionSet(entries ...Exclusion) *ExclusionSet {
	s := &ExclusionSet{reasons: make(map[string]ExclusionReason, len(entries))}
	for _, e := range entries {
		s.add(e.Name, e.Reason)
	}
	return s
}

func (s *ExclusionSet) add(name string, reason ExclusionReason) bool {
	if name == "" {
		return false
	}
	if _, exists := s.reasons[name]; exists {
		return false
	}
	s.reasons[name] = reason
	s.order = append(s.order, name)
	return true
}

// Contains reports whether name is excluded. A nil set excludes nothing.
func (s *ExclusionSet) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.reasons[name]
	return ok
}

// Reason returns why name is excluded.
func (s *ExclusionSet) Reason(name string) (ExclusionReason, bool) {
	if s == nil {
		return "", false
	}
	r, ok := s.reasons[name]
	return r, ok
}

// Len returns the number of excluded names.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the excluded names sorted.
func (s *ExclusionSet) Names() []string {
	if s == nil {
		return nil
	}
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

// Entries returns the members in the order they were added.
func (s *ExclusionSet) Entries() []Exclusion {
	if s == nil {
		return nil
	}
	out := make([]Exclusion, len(s.order))
	for i, name := range s.order {
		out[i] = Exclusion{Name: name, Reason: s.reasons[name]}
	}
	return out
}

// CountByReason returns how many names were excluded for each reason.
func (s *ExclusionSet) CountByReason() map[ExclusionReason]int {
	counts := map[ExclusionReason]int{
		ReasonManagementPlane: 0,
		ReasonFileService:     0,
		ReasonPolicy:          0,
	}
	if s == nil {
		return counts
	}
	for _, r := range s.reasons {
		counts[r]++
	}
	return counts
}

// MarshalJSON encodes the set as its entries.
func (s *ExclusionSet) MarshalJSON() ([]byte, error) {
	entries := s.Entries()
	if entries == nil {
		entries = []Exclusion{}
	}
	return json.Marshal(entries)
}
