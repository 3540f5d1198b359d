package watch

import "fmt"

// notFoundText marks a parse tree that never resolved to a text field.
const notFoundText = "text not found"

// NormalizeResult coerces an extracted parse tree into the uniform item
// shape: a single Item or a []Item. Trees arrive in several layouts:
//
//	{"text": "xxx"}
//	{"text": "xxx", "url": "xxx", "__key__": "xxx"}
//	{"rule_name": {"text": "xxx"}}
//	{"__result__": {"rule_name": [{"text": "xxx"}]}}
//
// Nested "__result__" wrappers and single-entry rule wrappers are unwrapped
// recursively. A tree with no reachable text field normalizes to the
// not-found placeholder, which IsNotFound recognizes.
func NormalizeResult(v any) any {
	switch val := v.(type) {
	case Item:
		return normalizeRecord(val)
	case map[string]any:
		return normalizeRecord(val)
	case []any:
		items := make([]Item, 0, len(val))
		for _, elem := range val {
			items = appendNormalized(items, NormalizeResult(elem))
		}
		return nonEmpty(items)
	case []Item:
		items := make([]Item, 0, len(val))
		for _, elem := range val {
			items = appendNormalized(items, NormalizeResult(elem))
		}
		return nonEmpty(items)
	case []map[string]any:
		items := make([]Item, 0, len(val))
		for _, elem := range val {
			items = appendNormalized(items, NormalizeResult(elem))
		}
		return nonEmpty(items)
	default:
		return Item{"text": notFoundText}
	}
}

// IsNotFound reports whether a normalized result is the placeholder
// produced when no text field was reachable.
func IsNotFound(v any) bool {
	it, ok := v.(Item)
	return ok && len(it) == 1 && it.Text() == notFoundText
}

func normalizeRecord(m map[string]any) any {
	if wrapped, ok := m["__result__"]; ok && wrapped != nil {
		inner, ok := wrapped.(map[string]any)
		if !ok || len(inner) == 0 {
			return Item{"text": notFoundText}
		}
		// rule wrappers hold a single named entry
		for _, v := range inner {
			return NormalizeResult(v)
		}
	}
	text, ok := m["text"]
	if !ok || text == nil {
		// descend into the single named child
		for _, v := range m {
			return NormalizeResult(v)
		}
		return Item{"text": notFoundText}
	}
	out := Item{"text": fmt.Sprint(text)}
	for _, field := range []string{"url", "title", "__key__"} {
		if v, ok := m[field]; ok && v != nil {
			out[field] = v
		}
	}
	return out
}

// nonEmpty degrades a list that normalized to nothing into the not-found
// placeholder, matching the single-record path.
func nonEmpty(items []Item) any {
	if len(items) == 0 {
		return Item{"text": notFoundText}
	}
	return items
}

func appendNormalized(items []Item, v any) []Item {
	switch n := v.(type) {
	case Item:
		return append(items, n)
	case []Item:
		return append(items, n...)
	default:
		return items
	}
}
