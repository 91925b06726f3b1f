package model

import "time"

// FileEvent is published whenever the contents of a bucket change
type FileEvent struct {
	Type      string    `json:"type"`
	Bucket    string    `json:"bucket"`
	FileID    string    `json:"fileId,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Length    int64     `json:"length,omitempty"`
	Count     int64     `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// ResumeToken is assigned by the event store
	ResumeToken string `json:"resumeToken,omitempty"`
}
