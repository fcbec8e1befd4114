// Package policy evaluates chat access decisions with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Actions checked against the policy.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// Input is the document the policy is evaluated against.
type Input struct {
	Action string      `json:"action"`
	UserID string      `json:"user_id"`
	Chat   ChatSubject `json:"chat"`
}

// ChatSubject is the part of a chat the policy can see.
type ChatSubject struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_access.allow"),
		rego.Module("chat_access.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Allowed reports whether the policy allows input. A policy that yields
// no result denies.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

// DefaultPolicy lets owners do anything with their chats and everyone
// read anonymous ones.
const DefaultPolicy = `
package chat_access

default allow := false

allow if {
	input.user_id != ""
	input.chat.owner_id == input.user_id
}

allow if {
	input.action == "read"
	input.chat.owner_id == ""
}
`
