package topic

import (
	"errors"
	"maps"
	"testing"
)

// =============================================================================
// Compile
// =============================================================================

func TestCompile(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		kinds      map[string]ParamKind
		wantFilter string
		wantExpr   string
		wantParams []Param
	}{
		{
			name:       "plain filter",
			topic:      "a/b/c",
			wantFilter: "a/b/c",
		},
		{
			name:       "wildcards only",
			topic:      "a/+/#",
			wantFilter: "a/+/#",
		},
		{
			name:       "number and text",
			topic:      "{projectId}/{userName}",
			kinds:      map[string]ParamKind{"projectId": KindNumber},
			wantFilter: "+/+",
			wantExpr:   `^(\d+(?:\.\d+)?)/([^/]*)$`,
			wantParams: []Param{{"projectId", 1}, {"userName", 2}},
		},
		{
			name:       "trailing multi-level",
			topic:      "my/hierarchical/topics/{param}/#",
			wantFilter: "my/hierarchical/topics/+/#",
			wantExpr:   `^my/hierarchical/topics/([^/]*)(?:/.*)?$`,
			wantParams: []Param{{"param", 1}},
		},
		{
			name:       "single-level wildcard next to placeholder",
			topic:      "a/+/{x}",
			wantFilter: "a/+/+",
			wantExpr:   `^a/[^/]*/([^/]*)$`,
			wantParams: []Param{{"x", 1}},
		},
		{
			name:       "placeholder inside a level",
			topic:      "dev-{id}.state/x",
			wantFilter: "+/x",
			wantExpr:   `^dev-([^/]*)\.state/x$`,
			wantParams: []Param{{"id", 1}},
		},
		{
			name:       "metacharacters are escaped",
			topic:      "$SYS/(a)|[b]/{v}",
			wantFilter: "$SYS/(a)|[b]/+",
			wantExpr:   `^\$SYS/\(a\)\|\[b\]/([^/]*)$`,
			wantParams: []Param{{"v", 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(Template{Topic: tt.topic, QoS: 1}, tt.kinds)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.topic, err)
			}
			if p.Filter() != tt.wantFilter {
				t.Errorf("Filter() = %q, want %q", p.Filter(), tt.wantFilter)
			}
			if p.Expr() != tt.wantExpr {
				t.Errorf("Expr() = %q, want %q", p.Expr(), tt.wantExpr)
			}
			if p.Parameterized() != (tt.wantExpr != "") {
				t.Errorf("Parameterized() = %v, want %v", p.Parameterized(), tt.wantExpr != "")
			}
			params := p.Params()
			if len(params) != len(tt.wantParams) {
				t.Fatalf("Params() = %v, want %v", params, tt.wantParams)
			}
			for i := range params {
				if params[i] != tt.wantParams[i] {
					t.Errorf("Params()[%d] = %v, want %v", i, params[i], tt.wantParams[i])
				}
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    Template
		wantErr error
	}{
		{"empty topic", Template{Topic: ""}, ErrEmptyTopic},
		{"qos 3", Template{Topic: "a", QoS: 3}, ErrInvalidQoS},
		{"unclosed brace", Template{Topic: "a/{x"}, ErrMalformedPlaceholder},
		{"stray closing brace", Template{Topic: "a/x}"}, ErrMalformedPlaceholder},
		{"closing before opening", Template{Topic: "a/}x{"}, ErrMalformedPlaceholder},
		{"empty name", Template{Topic: "a/{}"}, ErrMalformedPlaceholder},
		{"non-word name", Template{Topic: "a/{x-y}"}, ErrMalformedPlaceholder},
		{"duplicate name", Template{Topic: "{x}/{x}"}, ErrMalformedPlaceholder},
		{"hash not last", Template{Topic: "a/#/{x}"}, ErrInvalidFilter},
		{"wildcard mixed with placeholder", Template{Topic: "a/{x}+"}, ErrInvalidFilter},
		{"plus inside level", Template{Topic: "a/b+"}, ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.tmpl, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile(%q) error = %v, want %v", tt.tmpl.Topic, err, tt.wantErr)
			}
		})
	}
}

func TestMustCompile_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustCompile() did not panic on invalid template")
		}
	}()
	MustCompile(Template{Topic: ""}, nil)
}

// =============================================================================
// Matching and variable extraction
// =============================================================================

func TestPattern_MatchVars(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		kinds     map[string]ParamKind
		input     string
		wantMatch bool
		wantVars  map[string]string
	}{
		{
			name:      "project and user",
			topic:     "{projectId}/{userName}",
			kinds:     map[string]ParamKind{"projectId": KindNumber},
			input:     "0/user1",
			wantMatch: true,
			wantVars:  map[string]string{"projectId": "0", "userName": "user1"},
		},
		{
			name:      "number rejects text",
			topic:     "{projectId}/{userName}",
			kinds:     map[string]ParamKind{"projectId": KindNumber},
			input:     "abc/user1",
			wantMatch: false,
			wantVars:  map[string]string{},
		},
		{
			name:      "number accepts fraction",
			topic:     "temp/{value}",
			kinds:     map[string]ParamKind{"value": KindNumber},
			input:     "temp/21.5",
			wantMatch: true,
			wantVars:  map[string]string{"value": "21.5"},
		},
		{
			name:      "hierarchical with subtopics",
			topic:     "my/hierarchical/topics/{param}/#",
			input:     "my/hierarchical/topics/one/with/subtopics",
			wantMatch: true,
			wantVars:  map[string]string{"param": "one"},
		},
		{
			name:      "trailing multi-level matches parent",
			topic:     "my/hierarchical/topics/{param}/#",
			input:     "my/hierarchical/topics/one",
			wantMatch: true,
			wantVars:  map[string]string{"param": "one"},
		},
		{
			name:      "multi-level alone matches everything",
			topic:     "#",
			input:     "this/should/be/matched",
			wantMatch: true,
			wantVars:  map[string]string{},
		},
		{
			name:      "placeholder does not span levels",
			topic:     "a/{x}/c",
			input:     "a/b/d/c",
			wantMatch: false,
			wantVars:  map[string]string{},
		},
		{
			name:      "single-level wildcard matches empty level",
			topic:     "a/{x}/+",
			input:     "a/1/",
			wantMatch: true,
			wantVars:  map[string]string{"x": "1"},
		},
		{
			name:      "placeholder matches empty level",
			topic:     "a/{x}/c",
			input:     "a//c",
			wantMatch: true,
			wantVars:  map[string]string{"x": ""},
		},
		{
			name:      "number rejects empty level",
			topic:     "a/{n}",
			kinds:     map[string]ParamKind{"n": KindNumber},
			input:     "a/",
			wantMatch: false,
			wantVars:  map[string]string{},
		},
		{
			name:      "leading placeholder captures system level",
			topic:     "{x}/status",
			input:     "$SYS/status",
			wantMatch: true,
			wantVars:  map[string]string{"x": "$SYS"},
		},
		{
			name:      "leading wildcard skips system topics",
			topic:     "+/{x}",
			input:     "$SYS/status",
			wantMatch: false,
			wantVars:  map[string]string{},
		},
		{
			name:      "literal system level still matches",
			topic:     "$SYS/{x}",
			input:     "$SYS/uptime",
			wantMatch: true,
			wantVars:  map[string]string{"x": "uptime"},
		},
		{
			name:      "literal dot is not a wildcard",
			topic:     "v1.0/{x}",
			input:     "v1x0/y",
			wantMatch: false,
			wantVars:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := MustCompile(Template{Topic: tt.topic}, tt.kinds)

			vars, ok := p.MatchVars(tt.input)
			if ok != tt.wantMatch {
				t.Errorf("MatchVars(%q) matched = %v, want %v", tt.input, ok, tt.wantMatch)
			}
			if p.Match(tt.input) != tt.wantMatch {
				t.Errorf("Match(%q) = %v, want %v", tt.input, !tt.wantMatch, tt.wantMatch)
			}
			if !maps.Equal(vars, tt.wantVars) {
				t.Errorf("MatchVars(%q) vars = %v, want %v", tt.input, vars, tt.wantVars)
			}
		})
	}
}

func TestPattern_SubstitutedValuesRoundTrip(t *testing.T) {
	p := MustCompile(Template{Topic: "site/{site}/dev-{device}/{channel}/#"}, nil)

	values := []map[string]string{
		{"site": "north", "device": "42", "channel": "temp"},
		{"site": "a b c", "device": "x.y.z", "channel": "$weird(chars)"},
		{"site": "ünïcødé", "device": "-", "channel": "+"},
		{"site": "", "device": "", "channel": "$x"},
	}

	for _, want := range values {
		topic := "site/" + want["site"] + "/dev-" + want["device"] + "/" + want["channel"] + "/extra"
		got, ok := p.MatchVars(topic)
		if !ok {
			t.Errorf("MatchVars(%q) did not match", topic)
			continue
		}
		if !maps.Equal(got, want) {
			t.Errorf("MatchVars(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestPattern_PlainAgreesWithMatches(t *testing.T) {
	filters := []string{"a/b", "a/+", "a/#", "+/+", "#", "$SYS/#"}
	topics := []string{"a", "a/b", "a/b/c", "b/a", "/", "$SYS/x"}

	for _, f := range filters {
		p := MustCompile(Template{Topic: f}, nil)
		for _, topic := range topics {
			if p.Match(topic) != Matches(f, topic) {
				t.Errorf("Pattern(%q).Match(%q) = %v, Matches() = %v", f, topic, p.Match(topic), Matches(f, topic))
			}
		}
	}
}

func TestPattern_TextPlaceholdersAgreeWithFilter(t *testing.T) {
	templates := []string{"a/{x}", "a/{x}/+", "{x}/status", "{x}/#", "a/dev-{x}/c"}
	topics := []string{"a", "a/", "a/1/", "a//c", "a/dev-/c", "x/status", "/status", "b/c/d"}

	for _, tmpl := range templates {
		p := MustCompile(Template{Topic: tmpl}, nil)
		for _, topic := range topics {
			// dev-{x} is narrower than its "+" filter level.
			want := Matches(p.Filter(), topic)
			if tmpl == "a/dev-{x}/c" {
				want = want && topic == "a/dev-/c"
			}
			if got := p.Match(topic); got != want {
				t.Errorf("Pattern(%q).Match(%q) = %v, want %v", tmpl, topic, got, want)
			}
		}
	}
}

func TestPattern_Equal(t *testing.T) {
	a := MustCompile(Template{Topic: "a/{x}/b", QoS: 0}, nil)
	b := MustCompile(Template{Topic: "a/+/b", QoS: 2}, nil)
	c := MustCompile(Template{Topic: "a/+/c", QoS: 0}, nil)

	if !a.Equal(b) {
		t.Error("Equal() = false for identical filters with different QoS")
	}
	if a.Equal(c) {
		t.Error("Equal() = true for different filters")
	}
}

func TestParseParamKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ParamKind
		wantErr bool
	}{
		{"", KindText, false},
		{"text", KindText, false},
		{"Number", KindNumber, false},
		{"numeric", KindNumber, false},
		{"blob", KindText, true},
	}
	for _, tt := range tests {
		got, err := ParseParamKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseParamKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseParamKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
