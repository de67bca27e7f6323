package engine

import (
	"context"
	"errors"
	"fmt"
)

// Generator is the language-capability collaborator: an opaque "generate
// text from prompt" black box. The engine never inspects how prompts are
// resolved; semantic steps are opaque by design.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// GenerationError wraps a failure from the language-capability
// collaborator. Retried per policy before surfacing as a node failure.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err is a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// ErrNotFound is returned by Storage.Read for a missing path.
var ErrNotFound = errors.New("not found")

// ErrNoStorage reports a deferred-load marker in a run that has no storage
// collaborator wired. Surfaces as a STORAGE node error, not a panic.
var ErrNoStorage = errors.New("no storage collaborator wired")

// Storage is the file/storage collaborator used to resolve deferred-load
// markers ("@load:<path>") during value perception.
type Storage interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
}
