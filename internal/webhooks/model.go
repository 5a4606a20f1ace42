package webhooks

import (
	"time"
)

// Event types dispatched by the registry.
const (
	EventRootAnchored = "root.anchored"
)

// Event is the JSON body POSTed to every endpoint.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL        string
	EventID    string
	StatusCode int
	Attempt    int
	Success    bool
	Error      string
}
