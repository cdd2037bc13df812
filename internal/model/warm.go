package model

import "github.com/google/uuid"

// WarmRequest asks the gateway to build a representation ahead of client traffic.
type WarmRequest struct {
	ID     uuid.UUID `json:"id"`
	Bucket string    `json:"bucket"`
	Key    string    `json:"key"`
	Query  string    `json:"query"`  // raw query string, parsed exactly like a GET
	Accept string    `json:"accept"` // optional Accept header used for format negotiation
}
