package schema

// Stub synthesizes placeholder data matching a schema's shape so
// downstream code paths are exercisable without a live provider:
// objects become maps with stubbed properties, arrays become empty
// slices, everything else becomes nil.
func Stub(n *Node) any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindObject:
		out := make(map[string]any, len(n.Properties))
		for key, sub := range n.Properties {
			out[key] = Stub(sub)
		}
		return out
	case KindArray:
		return []any{}
	case KindUnion:
		if len(n.Variants) > 0 {
			return Stub(n.Variants[0])
		}
		return nil
	default:
		return nil
	}
}
