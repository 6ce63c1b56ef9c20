package models

// FileStatus represents the local lifecycle status of a tracked file.
type FileStatus string

const (
	StatusPending     FileStatus = "pending"
	StatusUploading   FileStatus = "uploading"
	StatusProcessing  FileStatus = "processing"
	StatusSummarizing FileStatus = "summarizing"
	StatusComplete    FileStatus = "complete"
	StatusError       FileStatus = "error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []FileStatus{
	StatusPending,
	StatusUploading,
	StatusProcessing,
	StatusSummarizing,
	StatusComplete,
	StatusError,
}

// transitions is the forward chain plus the single retry back-edge.
var transitions = map[FileStatus][]FileStatus{
	StatusPending:     {StatusUploading},
	StatusUploading:   {StatusProcessing, StatusError},
	StatusProcessing:  {StatusSummarizing, StatusError},
	StatusSummarizing: {StatusComplete, StatusError},
	StatusError:       {StatusPending},
}

// Valid reports whether s is one of the known statuses.
func (s FileStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition happens from s.
func (s FileStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// InProgress reports whether s is one of the stages between pending and terminal.
func (s FileStatus) InProgress() bool {
	return s == StatusUploading || s == StatusProcessing || s == StatusSummarizing
}

// CanTransition reports whether a locally driven entry may move from one status to another.
func CanTransition(from, to FileStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseFileStatus converts a string into a FileStatus.
func ParseFileStatus(s string) (FileStatus, bool) {
	status := FileStatus(s)
	return status, status.Valid()
}

// RemoteStatus is the status vocabulary used by the remote file service and the status channel.
type RemoteStatus string

const (
	RemotePending    RemoteStatus = "pending"
	RemoteProcessing RemoteStatus = "processing"
	RemoteCompleted  RemoteStatus = "completed"
	RemoteFailed     RemoteStatus = "failed"
)

// Local maps a remote status onto the local enumeration.
func (s RemoteStatus) Local() (FileStatus, bool) {
	switch s {
	case RemotePending:
		return StatusPending, true
	case RemoteProcessing:
		return StatusProcessing, true
	case RemoteCompleted:
		return StatusComplete, true
	case RemoteFailed:
		return StatusError, true
	}
	return "", false
}
