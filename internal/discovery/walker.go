// Package discovery finds candidate project directories on disk. It is
// the default implementation of the scanner the coordinator drives; the
// coordinator itself only knows the scan.Scanner contract.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/devdeck/internal/scan"
)

const defaultMaxDepth = 4

// projectMarkers are files or directories whose presence makes a
// directory a candidate project, checked in this order.
var projectMarkers = []string{
	".git",
	"go.mod",
	"package.json",
	"Cargo.toml",
	"pyproject.toml",
	"pom.xml",
	"build.gradle",
	"Gemfile",
}

// defaultExcludes are directory names never descended into.
var defaultExcludes = []string{
	"node_modules",
	"vendor",
	"target",
	"dist",
	"build",
	".cache",
	".venv",
}

// Project is the metadata reported for each discovered directory.
type Project struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Markers []string `json:"markers"`
	HasGit  bool     `json:"hasGit"`
}

// Recorder persists discovered projects. Optional; recording failures
// are logged and do not stop the walk.
type Recorder interface {
	RecordProject(ctx context.Context, name, path string) error
}

// Walker walks root directories looking for projects. It implements
// scan.Scanner with cooperative cancellation via ctx.
type Walker struct {
	Excludes []string
	Recorder Recorder
}

// NewWalker creates a Walker with the default exclusion set plus extra.
func NewWalker(extraExcludes []string, recorder Recorder) *Walker {
	return &Walker{
		Excludes: append(append([]string{}, defaultExcludes...), extraExcludes...),
		Recorder: recorder,
	}
}

// Scan walks every requested root up to req.MaxDepth. Each project is
// first reported with its name and path, then re-reported with full
// marker metadata once the directory has been inspected, so watchers
// see a fast discovery followed by an enriching update.
func (w *Walker) Scan(ctx context.Context, req scan.Request, report func(scan.Discovery)) error {
	if len(req.Directories) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("no scan directories and no home directory: %w", err)
		}
		req.Directories = []string{home}
	}
	depth := req.MaxDepth
	if depth <= 0 {
		depth = defaultMaxDepth
	}

	for _, root := range req.Directories {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			slog.Warn("skipping unreadable scan root", "root", root, "error", err)
			continue
		}
		if !info.IsDir() {
			continue
		}
		if err := w.walk(ctx, root, depth, report); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// walk recurses into dir with remaining depth budget. Project roots are
// reported and not descended into; nested projects belong to their own
// scan of that root.
func (w *Walker) walk(ctx context.Context, dir string, depth int, report func(scan.Discovery)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if markers := detectMarkers(dir); len(markers) > 0 {
		name := filepath.Base(dir)
		report(scan.Discovery{
			Path: dir,
			Data: Project{Name: name, Path: dir},
		})

		project := Project{
			Name:    name,
			Path:    dir,
			Markers: markers,
			HasGit:  contains(markers, ".git"),
		}
		report(scan.Discovery{Path: dir, Data: project})

		if w.Recorder != nil {
			if err := w.Recorder.RecordProject(ctx, name, dir); err != nil {
				slog.Warn("failed to record discovered project", "path", dir, "error", err)
			}
		}
		return nil
	}

	if depth <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("skipping unreadable directory", "dir", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if w.excluded(name) || strings.HasPrefix(name, ".") {
			continue
		}
		if err := w.walk(ctx, filepath.Join(dir, name), depth-1, report); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) excluded(name string) bool {
	for _, ex := range w.Excludes {
		if name == ex {
			return true
		}
	}
	return false
}

// detectMarkers returns the project markers present in dir.
func detectMarkers(dir string) []string {
	var found []string
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			found = append(found, marker)
		}
	}
	return found
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
