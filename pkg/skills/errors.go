// Package skills implements the prompt-assembly, model-call and
// output-validation units the engine composes per negotiation: formulation,
// offer generation, coordination, sub-negotiation discovery and gap
// recursion.
package skills

import (
	"errors"
	"fmt"
)

// ErrSkill is the sentinel all skill failures wrap.
var ErrSkill = errors.New("skill error")

// Error is a skill failure with the skill name and an optional cause.
type Error struct {
	Skill string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skill %s: %s: %v", e.Skill, e.Msg, e.Err)
	}
	return fmt.Sprintf("skill %s: %s", e.Skill, e.Msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSkill
}

// Is lets errors.Is(err, ErrSkill) match even when a cause is attached.
func (e *Error) Is(target error) bool { return target == ErrSkill }

func newError(skill, msg string) *Error { return &Error{Skill: skill, Msg: msg} }

func wrapError(skill, msg string, err error) *Error {
	return &Error{Skill: skill, Msg: msg, Err: err}
}
