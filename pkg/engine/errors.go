package engine

import (
	"fmt"
)

// Code classifies engine failures.
type Code string

// Failure codes.
const (
	CodeAdapter   Code = "adapter"
	CodeReasoning Code = "reasoning"
	CodeSkill     Code = "skill"
	CodeEngine    Code = "engine"
	CodeEncoding  Code = "encoding"
	CodeConfig    Code = "config"
)

// Error is a classified engine failure carrying the stage and negotiation it
// happened in.
type Error struct {
	Code          Code
	Stage         string
	NegotiationID string
	Skill         string
	Err           error
}

func (e *Error) Error() string {
	if e.Skill != "" {
		return fmt.Sprintf("engine: %s error in stage %s (negotiation %s, skill %s): %v",
			e.Code, e.Stage, e.NegotiationID, e.Skill, e.Err)
	}
	return fmt.Sprintf("engine: %s error in stage %s (negotiation %s): %v",
		e.Code, e.Stage, e.NegotiationID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, stage, negotiationID string, err error) *Error {
	return &Error{Code: code, Stage: stage, NegotiationID: negotiationID, Err: err}
}
