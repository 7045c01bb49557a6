package flywheel

import "strings"

// Parents carries the weak back-references from a container to its
// ancestors. Values are container IDs; absent levels are empty strings.
type Parents struct {
	Group       string `json:"group"`
	Project     string `json:"project"`
	Subject     string `json:"subject"`
	Session     string `json:"session"`
	Acquisition string `json:"acquisition"`
}

// Container is an immutable snapshot of one node in the hierarchy
// (group, project, subject, session or acquisition).
type Container struct {
	ID      string  `json:"_id"`
	Label   string  `json:"label"`
	Type    string  `json:"container_type"`
	Parents Parents `json:"parents"`

	// Info holds the raw container metadata. Session containers carry
	// viewer measurements here; child listings omit it.
	Info map[string]interface{} `json:"info,omitempty"`

	// Files is populated on acquisition containers only.
	Files []FileEntry `json:"files,omitempty"`
}

// FileEntry is a file attached to an acquisition. Info holds the raw
// viewer-state and header metadata blob.
type FileEntry struct {
	Name           string                 `json:"name"`
	Type           string                 `json:"type"`
	ZipMemberCount int                    `json:"zip_member_count,omitempty"`
	Info           map[string]interface{} `json:"info,omitempty"`
}

// SeriesInstanceUID returns the series UID recorded in the file's header
// metadata, normalized to dotted form. Empty when absent.
func (f *FileEntry) SeriesInstanceUID() string {
	uid, _ := f.Info["SeriesInstanceUID"].(string)
	return strings.ReplaceAll(uid, "_", ".")
}

// IsDICOM reports whether the classifier marked this file as DICOM.
func (f *FileEntry) IsDICOM() bool {
	return f.Type == "dicom"
}

// IsArchive reports whether the file is a multi-member DICOM zip.
func (f *FileEntry) IsArchive() bool {
	return f.ZipMemberCount > 0
}

// Container type names as the platform reports them.
const (
	TypeGroup       = "group"
	TypeProject     = "project"
	TypeSubject     = "subject"
	TypeSession     = "session"
	TypeAcquisition = "acquisition"
)
