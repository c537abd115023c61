package message

import "testing"

func TestCategory_String(t *testing.T) {
	tests := []struct {
		c    Category
		want string
	}{
		{CategoryIntentRequest, "intent_request"},
		{CategoryIntentResponse, "intent_response"},
		{CategoryNotice, "notice"},
		{CategoryProposal, "proposal"},
		{CategoryUnknown, "unknown"},
		{Category(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.c, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := map[string]Category{
		"notice":          CategoryNotice,
		"IntentRequest":   CategoryIntentRequest,
		"intent-response": CategoryIntentResponse,
		"intent_request":  CategoryIntentRequest,
		"Proposal":        CategoryProposal,
		"bogus":           CategoryUnknown,
	}
	for in, want := range tests {
		if got := ParseCategory(in); got != want {
			t.Errorf("ParseCategory(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPriority_Bypass(t *testing.T) {
	bypass := []Priority{PriorityImmediate, PriorityUrgent, PriorityRealtime}
	deferred := []Priority{PriorityUnset, PriorityBatch, PriorityThrottle}

	for _, p := range bypass {
		if !p.Bypass() {
			t.Errorf("%v should bypass batching", p)
		}
	}
	for _, p := range deferred {
		if p.Bypass() {
			t.Errorf("%v should not bypass batching", p)
		}
	}
}

func TestPriority_TextRoundTrip(t *testing.T) {
	var p Priority
	if err := p.UnmarshalText([]byte("Realtime")); err != nil {
		t.Fatalf("UnmarshalText() failed: %v", err)
	}
	if p != PriorityRealtime {
		t.Errorf("expected realtime, got %v", p)
	}
	if err := p.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestValidType(t *testing.T) {
	tests := map[string]bool{
		"a":             true,
		"a.b.c":         true,
		"plugin.debut":  true,
		"":              false,
		".a":            false,
		"a.":            false,
		"a..b":          false,
		"has space":     false,
		"tab\tinside.x": false,
	}
	for in, want := range tests {
		if got := ValidType(in); got != want {
			t.Errorf("ValidType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNamespaceAndJoin(t *testing.T) {
	if got := Namespace("plugin.debut"); got != "plugin" {
		t.Errorf("Namespace() = %q", got)
	}
	if got := Namespace("single"); got != "single" {
		t.Errorf("Namespace() = %q", got)
	}
	if got := JoinType("hierarchy", "", "child_added"); got != "hierarchy.child_added" {
		t.Errorf("JoinType() = %q", got)
	}
}
