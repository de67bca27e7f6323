package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedGenerator answers prompts from a fixed script keyed by substring.
//
// The first rule whose key is contained in the prompt wins, in the order
// rules were added. Prompts that match no rule return an error, so a test
// fails loudly instead of silently producing an empty result.
//
// This enables deterministic execution: the same plan with the same script
// produces byte-identical run state.
type ScriptedGenerator struct {
	mu    sync.Mutex
	rules []scriptRule
	calls []string
}

type scriptRule struct {
	contains string
	response string
}

// NewScriptedGenerator creates an empty script.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{}
}

// Respond adds a rule: prompts containing the given substring get the
// given response. Returns the generator for chaining.
func (g *ScriptedGenerator) Respond(contains, response string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, scriptRule{contains: contains, response: response})
	return g
}

// Generate implements the engine's language collaborator.
func (g *ScriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, prompt)
	for _, r := range g.rules {
		if strings.Contains(prompt, r.contains) {
			return r.response, nil
		}
	}
	return "", fmt.Errorf("no scripted response for prompt %q", prompt)
}

// Calls returns every prompt seen so far, in order.
func (g *ScriptedGenerator) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// FlakyGenerator fails its first n calls, then delegates. Used to exercise
// the retry policy.
type FlakyGenerator struct {
	mu       sync.Mutex
	failures int
	inner    interface {
		Generate(ctx context.Context, prompt string) (string, error)
	}
	err error
}

// NewFlakyGenerator wraps inner so the first failures calls return err.
func NewFlakyGenerator(failures int, err error, inner *ScriptedGenerator) *FlakyGenerator {
	return &FlakyGenerator{failures: failures, err: err, inner: inner}
}

// Generate implements the engine's language collaborator.
func (g *FlakyGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	if g.failures > 0 {
		g.failures--
		err := g.err
		g.mu.Unlock()
		return "", err
	}
	g.mu.Unlock()
	return g.inner.Generate(ctx, prompt)
}
