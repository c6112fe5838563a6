package models

import (
	"encoding/json"
	"time"
)

type HandinState string

const (
	HandinStatePending  HandinState = "Pending"
	HandinStateRunning  HandinState = "Running"
	HandinStateRejected HandinState = "Rejected"
	HandinStateAccepted HandinState = "Accepted"
)

func (s HandinState) String() string {
	return string(s)
}

// Terminal reports whether a score has already been recorded for this state.
func (s HandinState) Terminal() bool {
	return s == HandinStateAccepted || s == HandinStateRejected
}

type Handin struct {
	UUID         string          `json:"uuid" db:"uuid"`
	HomeworkID   string          `json:"hwid" db:"hwid"`
	Lang         string          `json:"lang" db:"lang"`
	UserID       string          `json:"user_id" db:"user_id"`
	State        HandinState     `json:"state" db:"state"`
	Score        float64         `json:"score" db:"score"`
	Scale        float64         `json:"scale" db:"scale"`
	Result       string          `json:"result,omitempty" db:"result"`
	CompileError string          `json:"compile_error,omitempty" db:"compile_error"`
	Partials     json.RawMessage `json:"partials,omitempty" db:"partials"`
	Exitcode     *int            `json:"exitcode,omitempty" db:"exitcode"`
	Stdout       *string         `json:"stdout,omitempty" db:"stdout"`
	Stderr       *string         `json:"stderr,omitempty" db:"stderr"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}
