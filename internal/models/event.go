package models

// Event is a frame exchanged over the realtime gateway.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
