package models

import (
	"time"
)

// Turn is one prior message in the conversation that produced a question.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Question is the immutable input to the pipeline for a single request.
type Question struct {
	Text    string `json:"question"`
	History []Turn `json:"history,omitempty"`
	Debug   bool   `json:"debug,omitempty"`
}

// RecentTurns returns at most n of the latest history turns, oldest first.
func (q Question) RecentTurns(n int) []Turn {
	if n <= 0 || len(q.History) == 0 {
		return nil
	}
	if len(q.History) <= n {
		return append([]Turn(nil), q.History...)
	}
	return append([]Turn(nil), q.History[len(q.History)-n:]...)
}
