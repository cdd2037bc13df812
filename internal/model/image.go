package model

import "time"

// Origin identifies a stored object and the validator it had when it was read.
type Origin struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
}

// Entry is a built representation held by the cache.
// It is immutable once published; callers must not modify Payload.
type Entry struct {
	Payload         []byte    `json:"payload"`
	ContentType     string    `json:"content_type"`
	ContentEncoding string    `json:"content_encoding,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	ETag            string    `json:"etag"`
	LastModified    time.Time `json:"last_modified"`
	CreatedAt       time.Time `json:"created_at"`
	Size            int64     `json:"size"`
}
