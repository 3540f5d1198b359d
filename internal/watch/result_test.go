package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeResultStandardRecord(t *testing.T) {
	t.Parallel()

	got := NormalizeResult(map[string]any{
		"url":  "https://example.com/item/1",
		"text": "text",
	})
	require.Equal(t, Item{"url": "https://example.com/item/1", "text": "text"}, got)
}

func TestNormalizeResultKeepsIdentityKey(t *testing.T) {
	t.Parallel()

	got := NormalizeResult(map[string]any{
		"text":    "v1",
		"__key__": "v1",
		"title":   "first",
	})
	require.Equal(t, Item{"text": "v1", "__key__": "v1", "title": "first"}, got)
}

func TestNormalizeResultBareString(t *testing.T) {
	t.Parallel()

	got := NormalizeResult("https://example.com")
	require.True(t, IsNotFound(got))
}

func TestNormalizeResultUnwrapsResultWrapper(t *testing.T) {
	t.Parallel()

	got := NormalizeResult(map[string]any{
		"__request__": "https://example.com",
		"__result__": map[string]any{
			"detail": map[string]any{"text": "PEP 1 -- PEP Purpose and Guidelines"},
		},
	})
	require.Equal(t, Item{"text": "PEP 1 -- PEP Purpose and Guidelines"}, got)
}

func TestNormalizeResultUnwrapsNestedWrapperList(t *testing.T) {
	t.Parallel()

	got := NormalizeResult(map[string]any{
		"__result__": map[string]any{
			"rule_name": map[string]any{
				"__result__": map[string]any{
					"detail": []any{
						map[string]any{"text": "PEP 1 -- PEP Purpose and Guidelines"},
					},
				},
			},
		},
	})
	require.Equal(t, []Item{{"text": "PEP 1 -- PEP Purpose and Guidelines"}}, got)
}

func TestNormalizeResultRuleWrapperWithList(t *testing.T) {
	t.Parallel()

	got := NormalizeResult(map[string]any{
		"list": map[string]any{
			"detail": []any{
				map[string]any{"text": "Wake up to WonderWidgets!", "url": "all"},
				map[string]any{"text": "Overview", "url": "all"},
			},
		},
	})
	require.Equal(t, []Item{
		{"text": "Wake up to WonderWidgets!", "url": "all"},
		{"text": "Overview", "url": "all"},
	}, got)
}

func TestNormalizeResultEmptyListIsNotFound(t *testing.T) {
	t.Parallel()

	got := NormalizeResult([]Item{})
	require.True(t, IsNotFound(got))
}

func TestItemKeyPrefersExplicitKey(t *testing.T) {
	t.Parallel()

	a := Item{"text": "noisy timestamp 12:01", "__key__": "stable-id"}
	b := Item{"text": "noisy timestamp 12:02", "__key__": "stable-id"}
	require.Equal(t, a.Key(), b.Key())

	c := Item{"text": "one"}
	d := Item{"text": "two"}
	require.NotEqual(t, c.Key(), d.Key())
}
