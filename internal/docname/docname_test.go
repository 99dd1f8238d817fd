package docname

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Identity
		ok    bool
	}{
		{name: "task", input: "task:abc-123:description", want: Identity{Type: Task, ID: "abc-123", Field: "description"}, ok: true},
		{name: "epic", input: "epic:e1:description", want: Identity{Type: Epic, ID: "e1", Field: "description"}, ok: true},
		{name: "story", input: "story:clx9z0001:description", want: Identity{Type: Story, ID: "clx9z0001", Field: "description"}, ok: true},
		{name: "milestone", input: "milestone:m_7:description", want: Identity{Type: Milestone, ID: "m_7", Field: "description"}, ok: true},
		{name: "max id length", input: "task:" + strings.Repeat("a", 100) + ":description", want: Identity{Type: Task, ID: strings.Repeat("a", 100), Field: "description"}, ok: true},
		{name: "id too long", input: "task:" + strings.Repeat("a", 101) + ":description"},
		{name: "disallowed field", input: "task:abc:title"},
		{name: "field with suffix", input: "task:abc:description:extra"},
		{name: "unsupported type", input: "widget:1:description"},
		{name: "uppercase type", input: "Task:1:description"},
		{name: "empty id", input: "task::description"},
		{name: "missing field", input: "task:abc"},
		{name: "empty field", input: "task:abc:"},
		{name: "empty", input: ""},
		{name: "leading space", input: " task:abc:description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIdentityStringRoundTrip(t *testing.T) {
	name := "story:s-42:description"
	id, ok := Parse(name)
	if !ok {
		t.Fatalf("expected %q to parse", name)
	}
	if id.String() != name {
		t.Errorf("expected %q, got %q", name, id.String())
	}
}

func TestTypesAreAllAccepted(t *testing.T) {
	for _, typ := range Types() {
		if !Valid(string(typ) + ":x:description") {
			t.Errorf("expected type %s to be accepted", typ)
		}
	}
}
