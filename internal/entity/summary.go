package entity

import "time"

const (
	StatusUnknown       FileStatus = "unknown"
	StatusComplete      FileStatus = "complete"
	StatusFailed        FileStatus = "failed"
	StatusUninteresting FileStatus = "uninteresting"
)

// FileStatus is the lifecycle state of one archived resource.
type FileStatus string

// FileSummary is the persisted record of one fixed-content resource.
// A complete summary always carries all three digests.
type FileSummary struct {
	Key      string     `json:"key"`
	Status   FileStatus `json:"status"`
	ReadOnly bool       `json:"read_only,omitempty"`
	When     time.Time  `json:"when"`
	MD5      string     `json:"md5,omitempty"`
	SHA1     string     `json:"sha1,omitempty"`
	SHA256   string     `json:"sha256,omitempty"`
}

func (s FileSummary) Complete() bool {
	return s.Status == StatusComplete
}

// HasDigests reports whether all three digests are present.
func (s FileSummary) HasDigests() bool {
	return s.MD5 != "" && s.SHA1 != "" && s.SHA256 != ""
}

// LiveFileSummary extends FileSummary for content-addressed assets. The
// generation distinguishes content variants of one slot over time; the
// highest generation is the current one.
type LiveFileSummary struct {
	FileSummary
	Generation int `json:"generation"`
}
