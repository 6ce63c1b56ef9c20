package models

// TypeCount is one slice of the file type breakdown.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// StatusUpdate is an externally reported status for a file id.
type StatusUpdate struct {
	FileID  string       `json:"fileId"`
	Status  RemoteStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Summary string       `json:"summary,omitempty"`
}
