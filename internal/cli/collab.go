package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calyptra/planrun/internal/engine"
)

// scriptEntry is one rule of a scripted collaborator file: prompts
// containing match get reply.
type scriptEntry struct {
	Match string `yaml:"match"`
	Reply string `yaml:"reply"`
}

// scriptGenerator answers prompts from a YAML script, first match wins.
// Used for deterministic runs without a live collaborator.
type scriptGenerator struct {
	entries []scriptEntry
}

// loadScriptGenerator reads a collaborator script file: a YAML list of
// {match, reply} rules.
func loadScriptGenerator(path string) (engine.Generator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var entries []scriptEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	for i, e := range entries {
		if e.Match == "" {
			return nil, fmt.Errorf("script %s: entry %d has no match", path, i)
		}
	}
	return &scriptGenerator{entries: entries}, nil
}

func (g *scriptGenerator) Generate(_ context.Context, prompt string) (string, error) {
	for _, e := range g.entries {
		if strings.Contains(prompt, e.Match) {
			return e.Reply, nil
		}
	}
	return "", fmt.Errorf("no scripted response for prompt %q", prompt)
}

// execGenerator shells out to an external collaborator command. The prompt
// goes to the command's stdin; its stdout, trimmed of the trailing newline,
// is the generation result.
type execGenerator struct {
	name string
	args []string
}

func newExecGenerator(command []string) (engine.Generator, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("collaborator command is empty")
	}
	return &execGenerator{name: command[0], args: command[1:]}, nil
}

func (g *execGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, g.name, g.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		if errOut.Len() > 0 {
			return "", fmt.Errorf("collaborator %s: %w: %s", g.name, err, strings.TrimSpace(errOut.String()))
		}
		return "", fmt.Errorf("collaborator %s: %w", g.name, err)
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// dirStorage implements the storage collaborator over a directory root.
// Paths are confined to the root; ".." escapes are rejected.
type dirStorage struct {
	root string
}

func newDirStorage(root string) (engine.Storage, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", root)
	}
	return &dirStorage{root: root}, nil
}

func (s *dirStorage) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(path)))
	rel, err := filepath.Rel(s.root, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the data directory", path)
	}
	return clean, nil
}

func (s *dirStorage) Read(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.ErrNotFound
	}
	return data, err
}

func (s *dirStorage) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
