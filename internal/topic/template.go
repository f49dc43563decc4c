package topic

import (
	"fmt"
	"regexp"
	"strings"
)

// Template is one declared subscription before compilation.
type Template struct {
	// Topic is the topic filter, optionally containing {name} placeholders.
	Topic string

	// QoS is the subscription QoS level (0, 1, or 2).
	QoS byte

	// Group is the shared-subscription group. Empty selects the queue form.
	Group string

	// Shared requests shared delivery when the client has it enabled.
	Shared bool
}

// ParamKind decides the shape of the capture group emitted for a placeholder.
type ParamKind int

const (
	// KindText captures any run of characters other than '/'.
	KindText ParamKind = iota

	// KindNumber captures digits with an optional fractional part.
	KindNumber
)

// String returns the lowercase name of the kind.
func (k ParamKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	default:
		return "text"
	}
}

// ParseParamKind converts "number" or "text" (case-insensitive) to a ParamKind.
func ParseParamKind(s string) (ParamKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "string":
		return KindText, nil
	case "number", "numeric":
		return KindNumber, nil
	default:
		return KindText, fmt.Errorf("topic: unknown parameter kind %q", s)
	}
}

// Param is a placeholder name and its capture group index in the expression.
type Param struct {
	Name  string
	Index int
}

// Pattern is a compiled Template.
//
// A Pattern without placeholders has no regular expression and is matched
// against its filter with MQTT wildcard semantics. Patterns are immutable.
type Pattern struct {
	template Template
	filter   string
	expr     *regexp.Regexp
	params   []Param
}

// Regular expression fragments. Like "+", a text level may be empty.
const (
	textGroup   = `([^/]*)`
	numberGroup = `(\d+(?:\.\d+)?)`
	oneLevel    = `[^/]*`
	// firstLevel is a leading "+", which does not match a "$" level.
	firstLevel = `(?:[^$/][^/]*)?`
	restLevels = `(?:/.*)?`
)

// token is a piece of one topic level: either literal text or a placeholder.
type token struct {
	text  string
	name  string
	param bool
}

// Compile turns a template into a Pattern.
//
// kinds maps placeholder names to the declared kind of the handler
// parameter bound to them. Names missing from kinds compile as KindText.
//
// Returns ErrEmptyTopic, ErrInvalidQoS, ErrMalformedPlaceholder or
// ErrInvalidFilter (wrapped) when the template cannot be used.
func Compile(t Template, kinds map[string]ParamKind) (*Pattern, error) {
	if t.Topic == "" {
		return nil, ErrEmptyTopic
	}
	if t.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, t.QoS)
	}

	levels := strings.Split(t.Topic, string(separator))
	parsed := make([][]token, len(levels))
	filterLevels := make([]string, len(levels))
	hasParams := false

	for i, level := range levels {
		tokens, err := parseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, t.Topic)
		}
		parsed[i] = tokens

		if !containsParam(tokens) {
			filterLevels[i] = level
			continue
		}

		hasParams = true
		for _, tok := range tokens {
			if !tok.param && strings.ContainsAny(tok.text, "+#") {
				return nil, fmt.Errorf("%w: %q: wildcard mixed with placeholder", ErrInvalidFilter, t.Topic)
			}
		}
		filterLevels[i] = singleLevelText
	}

	filter := strings.Join(filterLevels, string(separator))
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	p := &Pattern{
		template: t,
		filter:   filter,
	}
	if !hasParams {
		return p, nil
	}

	expr, params, err := buildExpr(parsed, kinds)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, t.Topic)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedPlaceholder, t.Topic, err)
	}
	p.expr = re
	p.params = params

	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(t Template, kinds map[string]ParamKind) *Pattern {
	p, err := Compile(t, kinds)
	if err != nil {
		panic(err)
	}
	return p
}

// parseLevel splits one topic level into literal text and placeholders.
func parseLevel(level string) ([]token, error) {
	var tokens []token
	rest := level

	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closing := strings.IndexByte(rest, '}')

		if open < 0 {
			if closing >= 0 {
				return nil, ErrMalformedPlaceholder
			}
			tokens = append(tokens, token{text: rest})
			break
		}
		if closing >= 0 && closing < open {
			return nil, ErrMalformedPlaceholder
		}
		if open > 0 {
			tokens = append(tokens, token{text: rest[:open]})
		}

		rest = rest[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, ErrMalformedPlaceholder
		}
		name := rest[:end]
		if !ValidName(name) {
			return nil, ErrMalformedPlaceholder
		}
		tokens = append(tokens, token{name: name, param: true})
		rest = rest[end+1:]
	}

	return tokens, nil
}

func containsParam(tokens []token) bool {
	for _, tok := range tokens {
		if tok.param {
			return true
		}
	}
	return false
}

// ValidName reports whether s can name a placeholder: a non-empty run of
// ASCII letters, digits and '_'. A leading digit is allowed.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// buildExpr renders the anchored expression for a parameterized template.
func buildExpr(levels [][]token, kinds map[string]ParamKind) (string, []Param, error) {
	parts := make([]string, 0, len(levels))
	params := make([]Param, 0, len(levels))
	seen := make(map[string]bool)
	group := 1
	trailingMulti := false

	for i, tokens := range levels {
		if len(tokens) == 1 && !tokens[0].param {
			switch tokens[0].text {
			case singleLevelText:
				if i == 0 {
					parts = append(parts, firstLevel)
				} else {
					parts = append(parts, oneLevel)
				}
				continue
			case multiLevelText:
				// ValidateFilter has already placed it last.
				if i == len(levels)-1 {
					trailingMulti = true
					continue
				}
			}
		}

		var b strings.Builder
		for _, tok := range tokens {
			if !tok.param {
				b.WriteString(escape(tok.text))
				continue
			}
			if seen[tok.name] {
				return "", nil, fmt.Errorf("%w: duplicate name %q", ErrMalformedPlaceholder, tok.name)
			}
			seen[tok.name] = true

			if kinds[tok.name] == KindNumber {
				b.WriteString(numberGroup)
			} else {
				b.WriteString(textGroup)
			}
			params = append(params, Param{Name: tok.name, Index: group})
			group++
		}
		parts = append(parts, b.String())
	}

	expr := "^" + strings.Join(parts, string(separator))
	if trailingMulti {
		expr += restLevels
	}
	expr += "$"

	return expr, params, nil
}

// escape backslash-escapes the characters that are structural in the
// expression syntax.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '$', '^', '.', '?', '*', '|', '(', ')', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Template returns the template the pattern was compiled from.
func (p *Pattern) Template() Template { return p.template }

// Topic returns the raw template topic.
func (p *Pattern) Topic() string { return p.template.Topic }

// Filter returns the broker-level topic filter: the template with every
// placeholder level replaced by "+".
func (p *Pattern) Filter() string { return p.filter }

// QoS returns the subscription QoS.
func (p *Pattern) QoS() byte { return p.template.QoS }

// Group returns the shared-subscription group.
func (p *Pattern) Group() string { return p.template.Group }

// Shared reports whether shared delivery was requested.
func (p *Pattern) Shared() bool { return p.template.Shared }

// Parameterized reports whether the template declared any placeholder.
func (p *Pattern) Parameterized() bool { return p.expr != nil }

// Params returns the placeholders in declaration order.
func (p *Pattern) Params() []Param {
	out := make([]Param, len(p.params))
	copy(out, p.params)
	return out
}

// Expr returns the compiled regular expression source, or "" when the
// pattern is matched as a plain filter.
func (p *Pattern) Expr() string {
	if p.expr == nil {
		return ""
	}
	return p.expr.String()
}

// Specificity returns the ordering key: 1 for plain filters and minus the
// placeholder count otherwise. Lower keys are tried first.
func (p *Pattern) Specificity() int {
	if p.expr == nil {
		return 1
	}
	return -len(p.params)
}

// Match reports whether topic is matched by the pattern.
//
// A placeholder in the first level also matches a "$" topic, which the
// broker never delivers to the "+" filter it subscribes with.
func (p *Pattern) Match(topic string) bool {
	if p.expr != nil {
		return p.expr.MatchString(topic)
	}
	return Matches(p.filter, topic)
}

// Vars returns the placeholder values captured from topic. The map is
// empty when the pattern has no placeholders or does not match.
func (p *Pattern) Vars(topic string) map[string]string {
	vars, _ := p.MatchVars(topic)
	return vars
}

// MatchVars matches topic and returns the captured placeholder values.
func (p *Pattern) MatchVars(topic string) (map[string]string, bool) {
	if p.expr == nil {
		return map[string]string{}, Matches(p.filter, topic)
	}

	m := p.expr.FindStringSubmatch(topic)
	if m == nil {
		return map[string]string{}, false
	}

	vars := make(map[string]string, len(p.params))
	for _, param := range p.params {
		vars[param.Name] = m[param.Index]
	}
	return vars, true
}

// Equal reports whether both patterns subscribe to the same filter.
// QoS and group are not part of a pattern's identity.
func (p *Pattern) Equal(other *Pattern) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.filter == other.filter
}

// String returns the raw template topic.
func (p *Pattern) String() string { return p.template.Topic }
