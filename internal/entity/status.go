package entity

import "time"

// GroupStatus is the persisted synchronization state of one catalog item,
// one JSON document per item. It is the unit of resumability: a prior
// complete document whose request set has not grown lets a later run skip
// the item with zero network access.
type GroupStatus struct {
	SourceName     string                     `json:"source_name"`
	Section        Section                    `json:"section"`
	Slug           string                     `json:"slug"`
	IsComplete     bool                       `json:"is_complete"`
	When           time.Time                  `json:"when"`
	Updated        string                     `json:"updated,omitempty"`
	Err            string                     `json:"error,omitempty"`
	Files          map[string]FileSummary     `json:"files"`
	NextGeneration int                        `json:"next_generation,omitempty"`
	Live           map[string]LiveFileSummary `json:"live,omitempty"`
}

// NewGroupStatus returns an empty, incomplete status for an item that has
// never been synchronized.
func NewGroupStatus(sourceName string, section Section, slug string) *GroupStatus {
	return &GroupStatus{
		SourceName: sourceName,
		Section:    section,
		Slug:       slug,
		Files:      make(map[string]FileSummary),
		Live:       make(map[string]LiveFileSummary),
	}
}

// HasAll reports whether every key is present in the files map.
func (s *GroupStatus) HasAll(keys []string) bool {
	for _, key := range keys {
		if _, exists := s.Files[key]; !exists {
			return false
		}
	}

	return true
}

// AllComplete reports whether every key is present and complete.
func (s *GroupStatus) AllComplete(keys []string) bool {
	for _, key := range keys {
		sum, exists := s.Files[key]
		if !exists || !sum.Complete() {
			return false
		}
	}

	return true
}

// FailedKeys lists keys whose last attempt failed.
func (s *GroupStatus) FailedKeys() []string {
	var keys []string
	for key, sum := range s.Files {
		if sum.Status == StatusFailed {
			keys = append(keys, key)
		}
	}

	return keys
}
