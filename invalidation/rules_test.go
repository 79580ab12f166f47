package invalidation

import "testing"

func TestDefaultCatalogueMatchesEventSurface(t *testing.T) {
	c := DefaultCatalogue()

	cases := []struct {
		event   string
		tag     string
		pattern string
	}{
		{"customer:updated", "customer", "customer:${id}:*"},
		{"subscription:updated", "subscription", "customer:${customer_id}:subscriptions"},
		{"payment:completed", "payment", "customer:${customer_id}:*"},
		{"settings:updated", "settings", "setting:*"},
	}
	for _, tc := range cases {
		rules := c.RulesFor(tc.event)
		if len(rules) != 1 {
			t.Fatalf("event %s: expected 1 rule, got %d", tc.event, len(rules))
		}
		if rules[0].Tag != tc.tag {
			t.Fatalf("event %s: expected tag %q, got %q", tc.event, tc.tag, rules[0].Tag)
		}
		if len(rules[0].Patterns) != 1 || rules[0].Patterns[0] != tc.pattern {
			t.Fatalf("event %s: expected pattern %q, got %v", tc.event, tc.pattern, rules[0].Patterns)
		}
	}
}

func TestInterpolateSubstitutesFields(t *testing.T) {
	got := interpolate("customer:${id}:*", map[string]string{"id": "42"})
	if got != "customer:42:*" {
		t.Fatalf("expected customer:42:*, got %q", got)
	}
}

func TestInterpolateLeavesUnmatchedPlaceholder(t *testing.T) {
	got := interpolate("customer:${id}:*", map[string]string{"other": "x"})
	if got != "customer:${id}:*" {
		t.Fatalf("expected placeholder left untouched, got %q", got)
	}
}

func TestInterpolateNoData(t *testing.T) {
	got := interpolate("setting:*", nil)
	if got != "setting:*" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}
