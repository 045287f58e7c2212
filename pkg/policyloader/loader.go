package policyloader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrConfigNotFound means no candidate policy document could be loaded.
var ErrConfigNotFound = errors.New("policyloader: no policy document found")

// DefaultPaths are tried in order, relative to the root directory.
var DefaultPaths = []string{
	"WARP_AGENTS.md",
	filepath.Join("docs", "WARP_AGENTS.md"),
}

// Options tune Load.
type Options struct {
	// Paths overrides DefaultPaths.
	Paths []string
	// ReadFile overrides os.ReadFile.
	ReadFile func(name string) ([]byte, error)
	Logger   *slog.Logger
}

func (o Options) paths() []string {
	if len(o.Paths) > 0 {
		return o.Paths
	}
	return DefaultPaths
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default().With("component", "policyloader")
}

// PathError records why one candidate path failed.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *PathError) Unwrap() error { return e.Err }

// LoadError aggregates every per-path failure of a Load call.
// It matches ErrConfigNotFound with errors.Is.
type LoadError struct {
	Root     string
	Failures []*PathError
}

func (e *LoadError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "policyloader: no policy document parsed under %s", e.Root)
	for _, f := range e.Failures {
		sb.WriteString("\n  - ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap exposes ErrConfigNotFound and each per-path failure.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrConfigNotFound)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// Load tries each candidate path under rootDir and returns the first bundle
// that parses. When none does, the returned *LoadError lists every reason.
func Load(rootDir string, opts Options) (*Bundle, error) {
	read := opts.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	log := opts.logger()

	loadErr := &LoadError{Root: rootDir}
	for _, rel := range opts.paths() {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(rootDir, rel)
		}
		data, err := read(path)
		if err != nil {
			log.Debug("policy candidate unreadable", "path", path, "error", err)
			loadErr.Failures = append(loadErr.Failures, &PathError{Path: path, Err: err})
			continue
		}
		b, err := Parse(data)
		if err != nil {
			log.Debug("policy candidate rejected", "path", path, "error", err)
			loadErr.Failures = append(loadErr.Failures, &PathError{Path: path, Err: err})
			continue
		}
		b.Source = path
		log.Info("policy loaded", "path", path, "version", b.SemVer().String(), "constraints", len(b.Constraints))
		return b, nil
	}
	return nil, loadErr
}
