// Package parse extracts symbol tables from source files using tree-sitter.
package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/lang"
	"github.com/phobologic/codecontext/internal/model"
)

// Extractor parses files under one repository root. It holds no mutable
// state and is safe for concurrent use.
type Extractor struct {
	root        string
	languages   map[string]*lang.Language
	maxFileSize int64
}

// NewExtractor creates an extractor for the files under root, limited to the
// given language names.
func NewExtractor(root string, supported []string, maxFileSize int64) (*Extractor, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository root does not exist", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository root cannot be resolved", err)
	}

	languages := make(map[string]*lang.Language, len(supported))
	for _, name := range supported {
		l, ok := lang.Languages[name]
		if !ok {
			return nil, errors.Newf(errors.UnsupportedLanguage, "language %q is not available", name)
		}
		languages[name] = l
	}
	return &Extractor{root: abs, languages: languages, maxFileSize: maxFileSize}, nil
}

// Supports reports whether language is in the configured set.
func (e *Extractor) Supports(language string) bool {
	_, ok := e.languages[language]
	return ok
}

// LanguageFor returns the configured language for path, using hint when set
// and the file extension otherwise.
func (e *Extractor) LanguageFor(path, hint string) (*lang.Language, error) {
	name := hint
	if name == "" {
		name = lang.ForPath(path)
	}
	if name == "" {
		return nil, errors.Newf(errors.UnsupportedLanguage, "no supported language for extension %q", filepath.Ext(path))
	}
	l, ok := e.languages[name]
	if !ok {
		return nil, errors.Newf(errors.UnsupportedLanguage, "language %q is not configured", name)
	}
	return l, nil
}

// Extract parses the file at path, which may be absolute or relative to the
// repository root. Syntax errors are not returned as errors: the result has
// ParseFailed set, no symbols, a warning and a PARSE_ERROR in Err.
func (e *Extractor) Extract(ctx context.Context, path, hint string) (model.Extraction, error) {
	if hint != "" && !e.Supports(hint) {
		return model.Extraction{}, errors.Newf(errors.UnsupportedLanguage, "language %q is not configured", hint)
	}

	abs, rel, err := e.resolve(path)
	if err != nil {
		return model.Extraction{}, err
	}
	l, err := e.LanguageFor(rel, hint)
	if err != nil {
		return model.Extraction{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return model.Extraction{}, errors.Wrap(errors.FileNotFound, "file not found: "+rel, err)
	}
	if !info.Mode().IsRegular() {
		return model.Extraction{}, errors.New(errors.FileNotFound, "not a regular file: "+rel)
	}
	if e.maxFileSize > 0 && info.Size() > e.maxFileSize {
		return model.Extraction{}, errors.Newf(errors.InputValidation, "file %s is larger than %d bytes", rel, e.maxFileSize)
	}

	source, err := os.ReadFile(abs)
	if err != nil {
		return model.Extraction{}, errors.Wrap(errors.FileNotFound, "file not readable: "+rel, err)
	}
	return e.extract(ctx, l, source, rel)
}

// ExtractSource parses source as the named language. path is only recorded
// in the result.
func (e *Extractor) ExtractSource(ctx context.Context, source []byte, language, path string) (model.Extraction, error) {
	l, err := e.LanguageFor(path, language)
	if err != nil {
		return model.Extraction{}, err
	}
	return e.extract(ctx, l, source, path)
}

// resolve confines path to the repository root after following symlinks.
func (e *Extractor) resolve(path string) (abs, rel string, err error) {
	if path == "" {
		return "", "", errors.New(errors.InputValidation, "path is empty")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(e.root, candidate)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(candidate))
	if err != nil {
		return "", "", errors.Wrap(errors.FileNotFound, "file not found: "+filepath.ToSlash(filepath.Base(path)), err)
	}
	rel, err = filepath.Rel(e.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.New(errors.FileNotFound, "path is outside the repository")
	}
	return resolved, filepath.ToSlash(rel), nil
}

func (e *Extractor) extract(ctx context.Context, l *lang.Language, source []byte, path string) (model.Extraction, error) {
	out := model.Extraction{Path: path, Language: l.Name, Symbols: []model.SymbolEntry{}}
	if len(source) == 0 {
		return out, nil
	}

	parser := l.NewParser()
	defer parser.Close()

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		if ctx.Err() != nil {
			return model.Extraction{}, ctx.Err()
		}
		return failed(out, errors.Wrap(errors.ParseError, "parser failed on "+path, err)), nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		msg := fmt.Sprintf("syntax error in %s near line %d", path, firstErrorLine(root))
		return failed(out, errors.New(errors.ParseError, msg)), nil
	}

	out.Symbols = ExtractSymbols(l, root, source)
	return out, nil
}

func failed(out model.Extraction, err *errors.Error) model.Extraction {
	out.ParseFailed = true
	out.Err = err
	out.Warnings = append(out.Warnings, err.Message+"; no symbols extracted")
	return out
}

// ExtractSymbols walks the top level of a syntax tree and one level of
// nesting below each definition, returning entries in source order.
func ExtractSymbols(l *lang.Language, root *sitter.Node, source []byte) []model.SymbolEntry {
	symbols := []model.SymbolEntry{}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		for _, def := range l.Define(root.NamedChild(i), source, nil) {
			symbols = append(symbols, toEntry(def, source))
			if def.Body == nil {
				continue
			}
			outer := def
			for j := 0; j < int(def.Body.NamedChildCount()); j++ {
				for _, inner := range l.Define(def.Body.NamedChild(j), source, &outer) {
					symbols = append(symbols, toEntry(inner, source))
				}
			}
		}
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		return symbols[i].StartLine < symbols[j].StartLine
	})
	return symbols
}

func toEntry(def lang.Definition, source []byte) model.SymbolEntry {
	start := def.Node.StartPoint()
	end := def.Node.EndPoint()
	endLine := int(end.Row) + 1
	if end.Column == 0 && end.Row > start.Row {
		endLine = int(end.Row)
	}
	return model.SymbolEntry{
		Kind:      def.Kind,
		Name:      def.Name,
		StartLine: int(start.Row) + 1,
		EndLine:   endLine,
		Docstring: def.Docstring,
		Signature: def.Signature,
		Code:      lang.NodeText(def.Node, source),
	}
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING node.
func firstErrorLine(node *sitter.Node) int {
	if node.Type() == "ERROR" || node.IsMissing() {
		return int(node.StartPoint().Row) + 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			return firstErrorLine(child)
		}
	}
	return int(node.StartPoint().Row) + 1
}
