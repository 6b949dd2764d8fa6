package templates

import (
	"encoding/json"
	"fmt"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Static schema extraction: walk the parsed tree collecting every variable
// path the template reads, and emit a JSON schema describing the expected
// input object. Array element access appears as the items schema; leaves
// whose type cannot be inferred stay unconstrained.

type schemaNode struct {
	children map[string]*schemaNode
	array    bool
	items    *schemaNode
}

func newSchemaNode() *schemaNode {
	return &schemaNode{children: map[string]*schemaNode{}}
}

func (n *schemaNode) child(name string) *schemaNode {
	c, ok := n.children[name]
	if !ok {
		c = newSchemaNode()
		n.children[name] = c
	}
	return c
}

func (n *schemaNode) elem() *schemaNode {
	n.array = true
	if n.items == nil {
		n.items = newSchemaNode()
	}
	return n.items
}

// ExtractVariableSchema parses the source and returns the JSON schema of the
// variables it reads, or nil when the template reads none.
func ExtractVariableSchema(source string) (map[string]any, error) {
	t, err := Compile(source)
	if err != nil {
		return nil, err
	}
	root := newSchemaNode()
	walkNodes(t.nodes, root, map[string]*schemaNode{})
	if len(root.children) == 0 {
		return nil, nil
	}
	return root.schema(), nil
}

// walkNodes collects paths from a node list. aliases maps loop variables to
// the schema node of the iterated elements.
func walkNodes(nodes []node, root *schemaNode, aliases map[string]*schemaNode) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *outputNode:
			collectExpr(n.expr, root, aliases)
		case *ifNode:
			for _, branch := range n.branches {
				collectExpr(branch.cond, root, aliases)
				walkNodes(branch.body, root, aliases)
			}
			walkNodes(n.elseBody, root, aliases)
		case *forNode:
			iterNode := collectExpr(n.iter, root, aliases)
			inner := make(map[string]*schemaNode, len(aliases)+1)
			for k, v := range aliases {
				inner[k] = v
			}
			if iterNode != nil {
				// The last loop variable binds the element; with tuple
				// unpacking the first is the key or index and contributes
				// no path.
				inner[n.vars[len(n.vars)-1]] = iterNode.elem()
				if len(n.vars) == 2 {
					inner[n.vars[0]] = nil
				}
			} else {
				for _, v := range n.vars {
					inner[v] = nil
				}
			}
			walkNodes(n.body, root, inner)
		}
	}
}

// collectExpr records the path an expression reads and returns its schema
// node, or nil for literals and boolean combinations.
func collectExpr(e expr, root *schemaNode, aliases map[string]*schemaNode) *schemaNode {
	switch e := e.(type) {
	case *nameExpr:
		if target, bound := aliases[e.name]; bound {
			return target
		}
		return root.child(e.name)
	case *getAttrExpr:
		base := collectExpr(e.base, root, aliases)
		if base == nil {
			return nil
		}
		return base.child(e.attr)
	case *getItemExpr:
		base := collectExpr(e.base, root, aliases)
		collectExpr(e.index, root, aliases)
		if base == nil {
			return nil
		}
		if lit, ok := e.index.(*literalExpr); ok {
			if key, ok := lit.value.(string); ok {
				return base.child(key)
			}
		}
		return base.elem()
	case *notExpr:
		collectExpr(e.operand, root, aliases)
	case *binaryExpr:
		collectExpr(e.left, root, aliases)
		collectExpr(e.right, root, aliases)
	}
	return nil
}

// schema renders the node tree as a JSON schema fragment.
func (n *schemaNode) schema() map[string]any {
	if n.array {
		items := map[string]any{}
		if n.items != nil {
			items = n.items.schema()
		}
		return map[string]any{"type": "array", "items": items}
	}
	if len(n.children) > 0 {
		properties := make(map[string]any, len(n.children))
		for name, child := range n.children {
			properties[name] = child.schema()
		}
		return map[string]any{"type": "object", "properties": properties}
	}
	return map[string]any{}
}

// ExtractPromptSchema extracts the variable schema read across every
// templated text part of a prompt, merged with an authored schema when one
// exists. It returns nil when the prompt reads no variables and nothing was
// authored.
func ExtractPromptSchema(prompt []models.Message, authored json.RawMessage) (json.RawMessage, error) {
	var extracted map[string]any
	for i := range prompt {
		for j := range prompt[i].Content {
			text := prompt[i].Content[j].Text
			if text == "" || !IsTemplate(text) {
				continue
			}
			schema, err := ExtractVariableSchema(text)
			if err != nil {
				return nil, err
			}
			extracted = MergeSchemaTypes(extracted, schema)
		}
	}
	if len(authored) > 0 {
		var authoredMap map[string]any
		if err := json.Unmarshal(authored, &authoredMap); err != nil {
			return nil, fmt.Errorf("decoding input variables schema: %w", err)
		}
		extracted = MergeSchemaTypes(extracted, authoredMap)
	}
	if extracted == nil {
		return nil, nil
	}
	return json.Marshal(extracted)
}

// MergeSchemaTypes overlays type information from an authored schema onto an
// extracted one: where both describe the same path, the authored constraints
// win; paths only the extraction knows are kept.
func MergeSchemaTypes(extracted, authored map[string]any) map[string]any {
	if extracted == nil {
		return authored
	}
	if authored == nil {
		return extracted
	}
	out := make(map[string]any, len(extracted)+len(authored))
	for k, v := range extracted {
		out[k] = v
	}
	for k, v := range authored {
		switch k {
		case "properties":
			ap, aok := v.(map[string]any)
			ep, eok := extracted["properties"].(map[string]any)
			if aok && eok {
				merged := make(map[string]any, len(ep)+len(ap))
				for name, sub := range ep {
					merged[name] = sub
				}
				for name, sub := range ap {
					if esub, ok := ep[name].(map[string]any); ok {
						if asub, ok := sub.(map[string]any); ok {
							merged[name] = MergeSchemaTypes(esub, asub)
							continue
						}
					}
					merged[name] = sub
				}
				out[k] = merged
				continue
			}
			out[k] = v
		case "items":
			ai, aok := v.(map[string]any)
			ei, eok := extracted["items"].(map[string]any)
			if aok && eok {
				out[k] = MergeSchemaTypes(ei, ai)
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}
