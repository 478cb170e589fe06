// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and the per-language rules that turn syntax nodes
// into symbols.
package lang

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codecontext/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Definition is a symbol recognized at a syntax node.
type Definition struct {
	Kind model.SymbolKind
	// Name is qualified with the enclosing definition for nested symbols.
	Name string
	// Node spans the whole definition, decorators and doc comments included.
	Node *sitter.Node
	// Body holds the nested definitions, nil when the kind has none.
	Body      *sitter.Node
	Signature model.Signature
	Docstring string
}

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Define returns the symbols that start at node. outer is the enclosing
	// definition, nil at the top level of the file.
	Define func(node *sitter.Node, source []byte, outer *Definition) []Definition
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// ForPath returns the language name for a file path, or "" if unsupported.
func ForPath(path string) string {
	return ForExtension(strings.ToLower(filepath.Ext(path)))
}

// Names returns the registered language names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for name := range Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// fieldText returns the collapsed text of node's named field, or "".
func fieldText(node *sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return CollapseWhitespace(NodeText(child, source))
}

// bodyOf returns node's body field, falling back to node itself so that
// grammars without a body field still expose their children.
func bodyOf(node *sitter.Node) *sitter.Node {
	if body := node.ChildByFieldName("body"); body != nil {
		return body
	}
	return node
}

func qualify(outer *Definition, name string) string {
	if outer == nil || outer.Name == "" {
		return name
	}
	return outer.Name + "." + name
}
