package topic

import "testing"

func TestSortBySpecificity(t *testing.T) {
	patterns := []*Pattern{
		MustCompile(Template{Topic: "a/+/b"}, nil),
		MustCompile(Template{Topic: "a/{x}/b"}, nil),
		MustCompile(Template{Topic: "#"}, nil),
		MustCompile(Template{Topic: "{p}/{q}/b"}, nil),
		MustCompile(Template{Topic: "a/{y}/+"}, nil),
	}

	SortBySpecificity(patterns)

	want := []string{"{p}/{q}/b", "a/{x}/b", "a/{y}/+", "a/+/b", "#"}
	for i, p := range patterns {
		if p.Topic() != want[i] {
			t.Errorf("patterns[%d] = %q, want %q", i, p.Topic(), want[i])
		}
	}
}

func TestSpecificity(t *testing.T) {
	tests := []struct {
		topic string
		want  int
	}{
		{"a/b", 1},
		{"a/+/#", 1},
		{"a/{x}", -1},
		{"{a}/{b}/{c}", -3},
	}
	for _, tt := range tests {
		p := MustCompile(Template{Topic: tt.topic}, nil)
		if got := p.Specificity(); got != tt.want {
			t.Errorf("Specificity(%q) = %d, want %d", tt.topic, got, tt.want)
		}
	}
}

func TestFirstMatch_ParameterizedWins(t *testing.T) {
	// Declared coarse-first on purpose; sorting must put the placeholder first.
	patterns := []*Pattern{
		MustCompile(Template{Topic: "a/+/b"}, nil),
		MustCompile(Template{Topic: "a/{x}/b"}, nil),
	}
	SortBySpecificity(patterns)

	p, vars, ok := FirstMatch(patterns, "a/5/b")
	if !ok {
		t.Fatal("FirstMatch() found no pattern")
	}
	if p.Topic() != "a/{x}/b" {
		t.Errorf("FirstMatch() pattern = %q, want %q", p.Topic(), "a/{x}/b")
	}
	if vars["x"] != "5" {
		t.Errorf("FirstMatch() vars[x] = %q, want %q", vars["x"], "5")
	}

	if _, _, ok := FirstMatch(patterns, "a/5/c"); ok {
		t.Error("FirstMatch(a/5/c) matched, want no match")
	}
}
