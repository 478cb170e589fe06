package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/codecontext/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Define:     pythonDefine,
	}
}

func pythonDefine(node *sitter.Node, source []byte, outer *Definition) []Definition {
	span := node
	if node.Type() == "decorated_definition" {
		node = node.ChildByFieldName("definition")
		if node == nil {
			return nil
		}
	}

	switch node.Type() {
	case "function_definition":
		kind := model.Function
		if outer != nil && outer.Kind == model.Class {
			kind = model.Method
		}
		body := node.ChildByFieldName("body")
		return []Definition{{
			Kind: kind,
			Name: qualify(outer, fieldText(node, "name", source)),
			Node: span,
			Body: body,
			Signature: model.Signature{
				Params:  fieldText(node, "parameters", source),
				Returns: fieldText(node, "return_type", source),
			},
			Docstring: pythonDocstring(body, source),
		}}

	case "class_definition":
		body := node.ChildByFieldName("body")
		return []Definition{{
			Kind:      model.Class,
			Name:      qualify(outer, fieldText(node, "name", source)),
			Node:      span,
			Body:      body,
			Signature: model.Signature{Params: fieldText(node, "superclasses", source)},
			Docstring: pythonDocstring(body, source),
		}}

	case "if_statement":
		if outer != nil || !pythonIsMainGuard(node, source) {
			return nil
		}
		return []Definition{{Kind: model.Block, Name: "__main__", Node: node}}
	}
	return nil
}

// pythonIsMainGuard reports whether node is `if __name__ == "__main__":`.
func pythonIsMainGuard(node *sitter.Node, source []byte) bool {
	cond := node.ChildByFieldName("condition")
	if cond == nil {
		return false
	}
	text := strings.ReplaceAll(CollapseWhitespace(NodeText(cond, source)), " ", "")
	text = strings.ReplaceAll(text, "'", `"`)
	return text == `__name__=="__main__"` || text == `"__main__"==__name__`
}

// pythonDocstring returns the leading string literal of a definition body.
func pythonDocstring(body *sitter.Node, source []byte) string {
	if body == nil {
		return ""
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			return ""
		}
		lit := stmt.NamedChild(0)
		if lit.Type() != "string" {
			return ""
		}
		return cleanDocstring(NodeText(lit, source))
	}
	return ""
}

// cleanDocstring strips the prefix and quotes from a string literal and
// removes the common indentation of its continuation lines.
func cleanDocstring(lit string) string {
	lit = strings.TrimLeft(lit, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(lit) >= 2*len(q) && strings.HasPrefix(lit, q) && strings.HasSuffix(lit, q) {
			lit = lit[len(q) : len(lit)-len(q)]
			break
		}
	}

	lines := strings.Split(strings.ReplaceAll(lit, "\r\n", "\n"), "\n")
	indent := -1
	for _, l := range lines[1:] {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" {
			continue
		}
		if n := len(l) - len(trimmed); indent < 0 || n < indent {
			indent = n
		}
	}
	lines[0] = strings.TrimSpace(lines[0])
	for i := 1; i < len(lines); i++ {
		if indent > 0 && len(lines[i]) >= indent {
			lines[i] = lines[i][indent:]
		}
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
