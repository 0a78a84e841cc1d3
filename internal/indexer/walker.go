package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

// defaultIgnorePatterns are never worth ingesting.
var defaultIgnorePatterns = []string{
	"node_modules/",
	"vendor/",
	"__pycache__/",
	"*.tmp",
	"*.swp",
	"~$*",
}

// WalkOptions selects which files under Root a walk visits.
type WalkOptions struct {
	Root           string
	Extensions     []string // empty means every extension
	IgnorePatterns []string // gitignore syntax, relative to Root
	IgnoreFile     string   // file name under Root with more patterns
}

// WalkStats counts what a walk saw.
type WalkStats struct {
	FilesFound   int
	FilesSkipped int
	DirsSkipped  int
}

// Walker visits the regular files under a root that pass the ignore rules
// and the extension filter. Hidden files and directories are skipped.
type Walker struct {
	opts    WalkOptions
	ignorer *gitignore.GitIgnore
	extSet  map[string]bool
	logger  *zap.Logger
	stats   WalkStats
}

// NewWalker resolves the root and compiles the ignore rules.
func NewWalker(opts WalkOptions, logger *zap.Logger) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}
	opts.Root = root
	if logger == nil {
		logger = zap.NewNop()
	}

	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, opts.IgnorePatterns...)
	if opts.IgnoreFile != "" {
		data, err := os.ReadFile(filepath.Join(root, opts.IgnoreFile))
		switch {
		case err == nil:
			patterns = append(patterns, strings.Split(string(data), "\n")...)
		case !os.IsNotExist(err):
			logger.Warn("failed to read ignore file", zap.String("path", opts.IgnoreFile), zap.Error(err))
		}
	}

	return &Walker{
		opts:    opts,
		ignorer: gitignore.CompileIgnoreLines(patterns...),
		extSet:  extensionSet(opts.Extensions),
		logger:  logger,
	}, nil
}

// Root returns the absolute root directory.
func (w *Walker) Root() string { return w.opts.Root }

// Stats returns the counts of the last walk.
func (w *Walker) Stats() WalkStats { return w.stats }

// Walk calls fn with the absolute path of every accepted file, in lexical
// order. Unreadable entries are logged and skipped.
func (w *Walker) Walk(ctx context.Context, fn func(path string) error) error {
	w.stats = WalkStats{}
	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("error accessing path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == w.opts.Root {
			return nil
		}
		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if w.shouldSkip(d.Name(), relPath+"/") {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}
		if w.shouldSkip(d.Name(), relPath) || !w.accepts(path) {
			w.stats.FilesSkipped++
			return nil
		}
		// Follow symlinks, but only to regular files.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			w.stats.FilesSkipped++
			return nil
		}
		w.stats.FilesFound++
		return fn(path)
	})
}

func (w *Walker) shouldSkip(name, relPath string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

func (w *Walker) accepts(path string) bool {
	return extensionAllowed(filepath.Ext(path), w.extSet)
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[strings.ToLower(ext)] = true
	}
	return set
}

// extensionAllowed reports whether ext is in set; a nil set allows everything.
func extensionAllowed(ext string, set map[string]bool) bool {
	if set == nil {
		return true
	}
	return set[strings.ToLower(ext)]
}
