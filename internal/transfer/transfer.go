// Package transfer exports and imports task lists as JSONL or YAML.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskflow/taskflow/internal/task"
)

// Format is a file encoding.
type Format string

const (
	// FormatJSONL is one JSON task per line.
	FormatJSONL Format = "jsonl"
	// FormatYAML is a single document with a tasks list.
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for a format other than jsonl or yaml.
var ErrUnknownFormat = errors.New("unknown transfer format")

// yamlVersion is written into YAML exports.
const yamlVersion = 1

type yamlDocument struct {
	Version int          `yaml:"version"`
	Tasks   []*task.Task `yaml:"tasks"`
}

// ParseFormat accepts jsonl, json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// DetectFormat picks the format from the file extension, defaulting to
// JSONL.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSONL
}

// Encode writes tasks to w.
func Encode(w io.Writer, format Format, tasks []*task.Task) error {
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, t := range tasks {
			if err := enc.Encode(t); err != nil {
				return fmt.Errorf("failed to encode task %d: %w", t.ID, err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(yamlDocument{Version: yamlVersion, Tasks: tasks}); err != nil {
			return fmt.Errorf("failed to encode tasks: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Decode reads tasks from r as written, without defaults or validation.
func Decode(r io.Reader, format Format) ([]*task.Task, error) {
	var tasks []*task.Task
	switch format {
	case FormatJSONL:
		dec := json.NewDecoder(bufio.NewReader(r))
		for line := 1; ; line++ {
			var t task.Task
			if err := dec.Decode(&t); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("invalid JSON at record %d: %w", line, err)
			}
			tasks = append(tasks, &t)
		}
	case FormatYAML:
		var doc yamlDocument
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if doc.Version > yamlVersion {
			return nil, fmt.Errorf("unsupported export version %d", doc.Version)
		}
		tasks = doc.Tasks
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return tasks, nil
}

// Source lists tasks to export.
type Source interface {
	GetAll(ctx context.Context) ([]*task.Task, error)
}

// Export writes every task from src to path, atomically.
func Export(ctx context.Context, src Source, path string, format Format) (int, error) {
	tasks, err := src.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read tasks: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := Encode(w, format, tasks); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return len(tasks), nil
}

// Sink receives imported tasks.
type Sink interface {
	GetByID(ctx context.Context, id int64) (*task.Task, error)
	Insert(ctx context.Context, t *task.Task) (int64, error)
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	Path   string
	Format Format // empty: detect from Path
	DryRun bool   // validate and count without writing
	// Now stamps records without a creation time. Defaults to time.Now.
	Now func() time.Time
}

// ImportResult contains statistics about the import.
type ImportResult struct {
	Imported int
	// Skipped counts records already present (same id and creation time).
	Skipped int
	// Renumbered counts records whose id was taken by a different task.
	Renumbered int
	// Tasks are the inserted tasks with their final ids.
	Tasks  []*task.Task
	Errors []string
}

// Import reads path and inserts its tasks into dst. A record whose id is
// free keeps it; a record whose id holds the same task is skipped; any
// other collision gets a new id. Invalid records are reported in Errors and
// do not stop the import.
func Import(ctx context.Context, dst Sink, opts ImportOptions) (*ImportResult, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	format := opts.Format
	if format == "" {
		format = DetectFormat(opts.Path)
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	tasks, err := Decode(file, format)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for i, t := range tasks {
		if t == nil {
			continue
		}
		t.SetDefaults(now())
		if err := t.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		if t.ID > 0 {
			existing, err := dst.GetByID(ctx, t.ID)
			switch {
			case errors.Is(err, task.ErrNotFound):
			case err != nil:
				return result, fmt.Errorf("failed to look up task %d: %w", t.ID, err)
			case existing.CreatedAt == t.CreatedAt:
				result.Skipped++
				continue
			default:
				t.ID = 0
				result.Renumbered++
			}
		}

		if opts.DryRun {
			result.Imported++
			continue
		}
		if _, err := dst.Insert(ctx, t); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}
		result.Imported++
		result.Tasks = append(result.Tasks, t)
	}
	return result, nil
}
