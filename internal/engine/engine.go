// Package engine exposes the feature-context operations over one
// repository: feature metadata from history, code examples from source
// files, and route changes from diffs.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/config"
	"github.com/phobologic/codecontext/internal/correlate"
	"github.com/phobologic/codecontext/internal/discover"
	"github.com/phobologic/codecontext/internal/endpoints"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/history"
	"github.com/phobologic/codecontext/internal/model"
	"github.com/phobologic/codecontext/internal/parse"
)

// Engine is safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	log        logger.FieldLogger
	repo       *history.Repository
	extractor  *parse.Extractor
	correlator *correlate.Correlator
	analyzer   *endpoints.Analyzer
}

// Option customizes New.
type Option func(*history.Options)

// WithRunner replaces the git subprocess runner.
func WithRunner(r history.Runner) Option {
	return func(o *history.Options) { o.Runner = r }
}

// WithCaches shares caches between engines.
func WithCaches(c *history.Caches) Option {
	return func(o *history.Options) { o.Caches = c }
}

// New opens the repository at cfg.RepoRoot.
func New(cfg *config.Config, log logger.FieldLogger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.InputValidation, "invalid configuration", err)
	}
	if log == nil {
		log = logger.StandardLogger()
	}

	hopts := history.Options{
		GitBinary:   cfg.GitBinary,
		Timeout:     cfg.CommandTimeout,
		CacheConfig: cfg.Cache,
		Log:         log,
	}
	for _, opt := range opts {
		opt(&hopts)
	}
	repo, err := history.Open(cfg.RepoRoot, hopts)
	if err != nil {
		return nil, err
	}

	extractor, err := parse.NewExtractor(repo.Root(), cfg.SupportedLanguages, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		log:        log,
		repo:       repo,
		extractor:  extractor,
		correlator: correlate.New(repo, log.WithField("component", "correlate")),
		analyzer:   endpoints.New(extractor, log.WithField("component", "endpoints")),
	}, nil
}

// Root returns the repository root.
func (e *Engine) Root() string {
	return e.repo.Root()
}

// Stats returns the counters of every history cache.
func (e *Engine) Stats() []cache.Stats {
	return e.repo.Caches().Stats()
}

// call starts a logged operation and returns the function that ends it.
func (e *Engine) call(op string, fields logger.Fields) (logger.FieldLogger, func(error)) {
	log := e.log.WithField("call", uuid.NewString()).WithField("op", op).WithFields(fields)
	start := time.Now()
	log.Debug("call started")
	return log, func(err error) {
		log = log.WithField("elapsed", time.Since(start).Round(time.Millisecond))
		if err != nil {
			log.WithField("code", errors.CodeOf(err)).WithError(err).Warn("call failed")
			return
		}
		log.Debug("call finished")
	}
}

// GetFeatureMetadata returns what history says about a feature identifier.
// An identifier nothing mentions yields a NotFound result, not an error.
func (e *Engine) GetFeatureMetadata(ctx context.Context, featureID string) (fc model.FeatureContext, err error) {
	log, done := e.call("feature", logger.Fields{"feature": featureID})
	defer func() { done(err) }()

	fc, err = e.correlator.Correlate(ctx, featureID)
	if err != nil {
		return model.FeatureContext{}, err
	}
	log.WithFields(logger.Fields{"commits": len(fc.Commits), "notFound": fc.NotFound}).Info("feature metadata")
	return fc, nil
}

// GetCodeExamples returns the symbols of one file. A file with syntax
// errors yields an Extraction with ParseFailed set, not an error.
func (e *Engine) GetCodeExamples(ctx context.Context, path string) (ex model.Extraction, err error) {
	log, done := e.call("examples", logger.Fields{"path": path})
	defer func() { done(err) }()

	ex, err = e.extractor.Extract(ctx, path, "")
	if err != nil {
		return model.Extraction{}, err
	}
	if ex.ParseFailed {
		log.WithField("warnings", ex.Warnings).Warn("file does not parse")
	}
	return ex, nil
}

// GetCodeExamplesBatch extracts every path, expanding directories into
// their tracked source files. Files are parsed concurrently; a file that
// fails is reported in its own Extraction and never fails the batch.
func (e *Engine) GetCodeExamplesBatch(ctx context.Context, paths []string) (exs []model.Extraction, err error) {
	log, done := e.call("examples-batch", logger.Fields{"paths": len(paths)})
	defer func() { done(err) }()

	files, err := e.expand(ctx, paths)
	if err != nil {
		return nil, err
	}

	exs = make([]model.Extraction, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		if f.err != nil {
			exs[i] = failedExtraction(f.path, f.err)
			continue
		}
		g.Go(func() error {
			ex, err := e.extractor.Extract(gctx, f.path, "")
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				ex = failedExtraction(f.path, err)
			}
			exs[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.WithField("files", len(exs)).Info("code examples")
	return exs, nil
}

type batchFile struct {
	path string
	err  error
}

// expand resolves each requested path to files, in request order without
// duplicates. Directories list their tracked source files.
func (e *Engine) expand(ctx context.Context, paths []string) ([]batchFile, error) {
	var tracked map[string]struct{}
	seen := make(map[string]struct{})
	var out []batchFile
	add := func(f batchFile) {
		if _, ok := seen[f.path]; ok {
			return
		}
		seen[f.path] = struct{}{}
		out = append(out, f)
	}

	for _, p := range paths {
		rel, isDir, err := e.locate(p)
		if err != nil {
			add(batchFile{path: p, err: err})
			continue
		}
		if !isDir {
			add(batchFile{path: rel})
			continue
		}
		if tracked == nil {
			listed, err := e.repo.ListFiles(ctx, "")
			if err != nil {
				return nil, err
			}
			tracked = make(map[string]struct{}, len(listed))
			for _, f := range listed {
				tracked[f] = struct{}{}
			}
		}
		entries, err := discover.Files(e.repo.Root(), rel, tracked, e.cfg.SupportedLanguages)
		if err != nil {
			add(batchFile{path: p, err: err})
			continue
		}
		for _, entry := range entries {
			add(batchFile{path: entry.Path})
		}
	}
	return out, nil
}

// locate returns p relative to the root and whether it is a directory.
func (e *Engine) locate(p string) (string, bool, error) {
	if p == "" {
		return "", false, errors.New(errors.InputValidation, "path is empty")
	}
	root := e.repo.Root()
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, filepath.FromSlash(p))
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", false, errors.Wrap(errors.FileNotFound, "file not found: "+filepath.Base(p), err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false, errors.New(errors.FileNotFound, "path is outside the repository")
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", false, errors.Wrap(errors.FileNotFound, "file not found: "+filepath.Base(p), err)
	}
	return filepath.ToSlash(rel), info.IsDir(), nil
}

func failedExtraction(path string, err error) model.Extraction {
	return model.Extraction{
		Path:     path,
		Symbols:  []model.SymbolEntry{},
		Warnings: []string{"skipped: " + err.Error()},
		Err:      err,
	}
}

// GetChangedEndpoints classifies route changes in a unified diff. The
// working tree supplies file context when the diff still applies to it.
func (e *Engine) GetChangedEndpoints(ctx context.Context, diffText string) (report model.EndpointReport, err error) {
	log, done := e.call("endpoints", nil)
	defer func() { done(err) }()

	files, err := history.ParseDiff(diffText)
	if err != nil {
		return model.EndpointReport{}, err
	}
	report, err = e.analyzer.Analyze(ctx, files, endpoints.WorktreeSides{Files: e.repo})
	if err != nil {
		return model.EndpointReport{}, err
	}
	log.WithFields(logger.Fields{"files": len(files), "endpoints": len(report.Endpoints)}).Info("changed endpoints")
	return report, nil
}

// GetChangedEndpointsBetween classifies route changes between two revisions.
func (e *Engine) GetChangedEndpointsBetween(ctx context.Context, base, head string) (report model.EndpointReport, err error) {
	log, done := e.call("endpoints-between", logger.Fields{"base": base, "head": head})
	defer func() { done(err) }()

	files, err := e.repo.DiffBetween(ctx, base, head)
	if err != nil {
		return model.EndpointReport{}, err
	}
	report, err = e.analyzer.Analyze(ctx, files, endpoints.RefSides{Files: e.repo, Base: base, Head: head})
	if err != nil {
		return model.EndpointReport{}, err
	}
	log.WithFields(logger.Fields{"files": len(files), "endpoints": len(report.Endpoints)}).Info("changed endpoints")
	return report, nil
}
