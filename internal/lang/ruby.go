package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/phobologic/codecontext/internal/model"
)

func init() {
	Languages["ruby"] = &Language{
		Name:       "ruby",
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Define:     rubyDefine,
	}
}

func rubyDefine(node *sitter.Node, source []byte, outer *Definition) []Definition {
	switch node.Type() {
	case "class", "module":
		return []Definition{{
			Kind:      model.Class,
			Name:      qualify(outer, fieldText(node, "name", source)),
			Node:      node,
			Body:      bodyOf(node),
			Signature: model.Signature{Params: fieldText(node, "superclass", source)},
		}}

	case "method":
		kind := model.Function
		if outer != nil {
			kind = model.Method
		}
		return []Definition{{
			Kind:      kind,
			Name:      qualify(outer, fieldText(node, "name", source)),
			Node:      node,
			Signature: model.Signature{Params: fieldText(node, "parameters", source)},
		}}

	case "singleton_method":
		name := fieldText(node, "name", source)
		if outer == nil {
			name = fieldText(node, "object", source) + "." + name
		}
		return []Definition{{
			Kind:      model.Method,
			Name:      qualify(outer, name),
			Node:      node,
			Signature: model.Signature{Params: fieldText(node, "parameters", source)},
		}}

	case "call":
		if outer != nil {
			return nil
		}
		block := rubyDoBlock(node)
		if block == nil {
			return nil
		}
		def := Definition{
			Kind: model.Block,
			Name: CollapseWhitespace(string(source[node.StartByte():block.StartByte()])),
			Node: node,
		}
		// Route blocks are named by path so a verb change stays the same symbol.
		verb := fieldText(node, "method", source)
		if args := fieldText(node, "arguments", source); rubyRouteVerbs[verb] && args != "" && node.ChildByFieldName("receiver") == nil {
			def.Name = args
			def.Signature = model.Signature{Params: verb}
		}
		return []Definition{def}
	}
	return nil
}

var rubyRouteVerbs = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true, "link": true, "unlink": true,
}

// rubyDoBlock returns the do...end block attached to a call, or nil.
func rubyDoBlock(call *sitter.Node) *sitter.Node {
	if block := call.ChildByFieldName("block"); block != nil {
		if block.Type() == "do_block" {
			return block
		}
		return nil
	}
	for i := 0; i < int(call.NamedChildCount()); i++ {
		if child := call.NamedChild(i); child.Type() == "do_block" {
			return child
		}
	}
	return nil
}
