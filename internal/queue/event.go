// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// LoginQueueName is the durable queue carrying login audit events.
const LoginQueueName = "auth.login"

// LoginEvent is published for every login attempt, successful or not.
// Reason carries the internal rejection cause and never reaches the
// client; the secret is never part of the event.
type LoginEvent struct {
	Identifier string    `json:"identifier"`
	Origin     string    `json:"origin"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
