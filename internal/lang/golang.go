package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/phobologic/codecontext/internal/model"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Define:     goDefine,
	}
}

// goDefine recognizes top-level declarations only; Go has no nested named
// declarations worth reporting.
func goDefine(node *sitter.Node, source []byte, outer *Definition) []Definition {
	if outer != nil {
		return nil
	}

	switch node.Type() {
	case "function_declaration":
		return []Definition{{
			Kind:      model.Function,
			Name:      fieldText(node, "name", source),
			Node:      node,
			Signature: goSignature(node, source),
		}}

	case "method_declaration":
		name := fieldText(node, "name", source)
		if recv := goReceiverType(node, source); recv != "" {
			name = recv + "." + name
		}
		return []Definition{{
			Kind:      model.Method,
			Name:      name,
			Node:      node,
			Signature: goSignature(node, source),
		}}

	case "type_declaration":
		var specs []*sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "type_spec" || child.Type() == "type_alias" {
				specs = append(specs, child)
			}
		}
		defs := make([]Definition, 0, len(specs))
		for _, spec := range specs {
			span := spec
			if len(specs) == 1 {
				span = node
			}
			defs = append(defs, Definition{
				Kind:      model.Class,
				Name:      fieldText(spec, "name", source),
				Node:      span,
				Signature: model.Signature{Params: fieldText(spec, "type_parameters", source)},
			})
		}
		return defs
	}
	return nil
}

func goSignature(node *sitter.Node, source []byte) model.Signature {
	return model.Signature{
		Params:  fieldText(node, "type_parameters", source) + fieldText(node, "parameters", source),
		Returns: fieldText(node, "result", source),
	}
}

// goReceiverType extracts the receiver type name from a method_declaration,
// unwrapping pointers and type arguments.
func goReceiverType(node *sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		if typ := param.ChildByFieldName("type"); typ != nil {
			return goTypeName(typ, source)
		}
	}
	return ""
}

func goTypeName(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "type_identifier":
		return NodeText(node, source)
	case "pointer_type":
		if node.NamedChildCount() > 0 {
			return goTypeName(node.NamedChild(0), source)
		}
	case "generic_type":
		if typ := node.ChildByFieldName("type"); typ != nil {
			return goTypeName(typ, source)
		}
	}
	return ""
}
