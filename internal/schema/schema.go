// Package schema parses and leniently validates extraction schemas.
//
// Schemas are represented as a closed tagged-variant tree so the walk is
// exhaustive over a fixed set of node kinds. Validation is structural
// only: the model remains the final authority on content correctness.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind tags a schema node.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindUnion   Kind = "union" // anyOf / oneOf / allOf / type lists
	KindRef     Kind = "ref"   // $ref, not dereferenced here
	KindAny     Kind = "any"   // no recognizable type constraint
)

// Node is one schema tree node.
type Node struct {
	Kind       Kind
	Properties map[string]*Node // object
	Items      *Node            // array
	Variants   []*Node          // union
	Ref        string           // ref
	Raw        map[string]any   // original document node, passed to providers verbatim
}

// Parse decodes and structurally validates a schema document.
func Parse(raw json.RawMessage) (*Node, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "schema: invalid JSON")
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, eris.New("schema: document must be a JSON object")
	}
	return parseNode(obj, "$")
}

// Validate checks a schema document's structure without keeping the tree.
func Validate(raw json.RawMessage) error {
	_, err := Parse(raw)
	return err
}

func parseNode(node map[string]any, path string) (*Node, error) {
	if ref, ok := node["$ref"]; ok {
		s, ok := ref.(string)
		if !ok {
			return nil, eris.Errorf("schema: '$ref' at %s must be a string", path)
		}
		// Referenced nodes are not deep-validated.
		return &Node{Kind: KindRef, Ref: s, Raw: node}, nil
	}

	// Combining keywords win over a declared type.
	for _, kw := range []string{"anyOf", "oneOf", "allOf"} {
		sub, ok := node[kw]
		if !ok {
			continue
		}
		list, ok := sub.([]any)
		if !ok {
			return nil, eris.Errorf("schema: %q at %s must be a list", kw, path)
		}
		out := &Node{Kind: KindUnion, Raw: node}
		for i, v := range list {
			m, ok := v.(map[string]any)
			if !ok {
				continue // non-object variants tolerated, not modeled
			}
			child, err := parseNode(m, fmt.Sprintf("%s.%s[%d]", path, kw, i))
			if err != nil {
				return nil, err
			}
			out.Variants = append(out.Variants, child)
		}
		return out, nil
	}

	kind, err := nodeKind(node, path)
	if err != nil {
		return nil, err
	}

	out := &Node{Kind: kind, Raw: node}

	switch kind {
	case KindUnion:
		// Type list: each entry is a primitive kind name.
		for _, t := range node["type"].([]any) {
			s, _ := t.(string)
			out.Variants = append(out.Variants, &Node{Kind: primitiveKind(s), Raw: node})
		}
	case KindObject:
		props, present := node["properties"]
		if present && props != nil {
			pm, ok := props.(map[string]any)
			if !ok {
				return nil, eris.Errorf("schema: 'properties' at %s must be an object", path)
			}
			out.Properties = make(map[string]*Node, len(pm))
			for key, sub := range pm {
				sm, ok := sub.(map[string]any)
				if !ok {
					// Non-object property schemas are tolerated as "any".
					out.Properties[key] = &Node{Kind: KindAny}
					continue
				}
				child, err := parseNode(sm, path+".properties."+key)
				if err != nil {
					return nil, err
				}
				out.Properties[key] = child
			}
		}
	case KindArray:
		switch items := node["items"].(type) {
		case map[string]any:
			child, err := parseNode(items, path+".items")
			if err != nil {
				return nil, err
			}
			out.Items = child
		case []any:
			// Tuple validation: model as a union of the member schemas.
			for i, v := range items {
				m, ok := v.(map[string]any)
				if !ok {
					continue
				}
				child, err := parseNode(m, fmt.Sprintf("%s.items[%d]", path, i))
				if err != nil {
					return nil, err
				}
				out.Variants = append(out.Variants, child)
			}
		case nil:
		default:
			return nil, eris.Errorf("schema: 'items' at %s must be an object or list", path)
		}
	}

	return out, nil
}

// nodeKind determines the node kind from the 'type' keyword and
// structural hints ('properties' / 'items' imply object / array).
func nodeKind(node map[string]any, path string) (Kind, error) {
	t, present := node["type"]
	if !present || t == nil {
		if _, ok := node["properties"]; ok {
			return KindObject, nil
		}
		if _, ok := node["items"]; ok {
			return KindArray, nil
		}
		return KindAny, nil
	}
	switch v := t.(type) {
	case string:
		return primitiveKind(v), nil
	case []any:
		if len(v) == 0 {
			return KindAny, nil
		}
		return KindUnion, nil
	default:
		return "", eris.Errorf("schema: invalid 'type' at %s: expected string or list", path)
	}
}

func primitiveKind(t string) Kind {
	switch strings.ToLower(t) {
	case "string":
		return KindString
	case "number":
		return KindNumber
	case "integer":
		return KindInteger
	case "boolean":
		return KindBoolean
	case "null":
		return KindNull
	case "object":
		return KindObject
	case "array":
		return KindArray
	default:
		return KindAny
	}
}
