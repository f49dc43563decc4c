package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-mqttroute/internal/clients"
	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Action types.
const (
	TypeLog       = "log"
	TypeRepublish = "republish"
)

// maxLoggedPayload caps the payload bytes included in a log entry.
const maxLoggedPayload = 256

var (
	// ErrUnknownAction is returned for an unsupported action type.
	ErrUnknownAction = errors.New("actions: unknown action type")

	// ErrNoPublisher is returned when a republish route is built without
	// a publisher.
	ErrNoPublisher = errors.New("actions: republish requires a publisher")

	// ErrUnresolvedTarget is returned at dispatch time when the target
	// names a placeholder the matched pattern did not capture.
	ErrUnresolvedTarget = errors.New("actions: unresolved target placeholder")
)

// Publisher sends messages. Satisfied by *clients.Manager.
type Publisher interface {
	Publish(ctx context.Context, clientID, topicName string, payload any, opts ...clients.PublishOption) error
}

// Deps are the collaborators shared by built actions.
type Deps struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// placeholderRe finds brace pairs; topic.ValidName decides which are placeholders.
var placeholderRe = regexp.MustCompile(`\{([^{}/]*)\}`)

// Build converts rc into a dispatch definition.
//
// Every name in Types and Required becomes a path variable parameter,
// ordered by name, followed by the raw message. Names typed "number" bind
// as float64 and make the placeholder match only numeric levels.
func Build(rc config.RouteConfig, deps Deps) (dispatch.Definition, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	params, err := buildParams(rc)
	if err != nil {
		return dispatch.Definition{}, fmt.Errorf("route %q: %w", rc.ID, err)
	}

	def := dispatch.Definition{
		ID:      rc.ID,
		Topics:  slices.Clone(rc.Topics),
		QoS:     toBytes(rc.QoS),
		Shared:  slices.Clone(rc.Shared),
		Groups:  slices.Clone(rc.Groups),
		Clients: slices.Clone(rc.Clients),
		Order:   rc.Order,
		Params:  params,
	}

	switch strings.ToLower(rc.Action.Type) {
	case "", TypeLog:
		def.Handler = &logAction{
			logger: logger,
			level:  parseLevel(rc.Action.Level),
		}
	case TypeRepublish:
		if deps.Publisher == nil {
			return dispatch.Definition{}, fmt.Errorf("route %q: %w", rc.ID, ErrNoPublisher)
		}
		a := &republishAction{
			publisher: deps.Publisher,
			logger:    logger,
			target:    rc.Action.Target,
			client:    rc.Action.Client,
			retained:  rc.Action.Retained,
		}
		if rc.Action.QoS != nil {
			q := byte(*rc.Action.QoS)
			a.qos = &q
		}
		def.Handler = a
	default:
		return dispatch.Definition{}, fmt.Errorf("route %q: %w: %q", rc.ID, ErrUnknownAction, rc.Action.Type)
	}

	return def, nil
}

// Register builds every route in routes and registers it on table, in
// declaration order. It stops at the first error.
func Register(table *dispatch.Table, routes []config.RouteConfig, deps Deps) error {
	for _, rc := range routes {
		def, err := Build(rc, deps)
		if err != nil {
			return err
		}
		if _, err := table.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func buildParams(rc config.RouteConfig) ([]dispatch.Param, error) {
	names := make(map[string]bool, len(rc.Types)+len(rc.Required))
	for name := range rc.Types {
		names[name] = true
	}
	for _, name := range rc.Required {
		names[name] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	params := make([]dispatch.Param, 0, len(ordered)+1)
	for _, name := range ordered {
		kind, err := topic.ParseParamKind(rc.Types[name])
		if err != nil {
			return nil, err
		}

		typ := reflect.TypeFor[string]()
		if kind == topic.KindNumber {
			typ = reflect.TypeFor[float64]()
		}

		var opts []dispatch.ParamOption
		if slices.Contains(rc.Required, name) {
			opts = append(opts, dispatch.Required())
		}
		params = append(params, dispatch.NewParam(dispatch.SourcePath, name, typ, opts...))
	}
	params = append(params, dispatch.RawMessage())
	return params, nil
}

func toBytes(qos []int) []byte {
	if len(qos) == 0 {
		return nil
	}
	out := make([]byte, len(qos))
	for i, q := range qos {
		out[i] = byte(q)
	}
	return out
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// logAction writes matched messages to the log.
type logAction struct {
	logger *slog.Logger
	level  slog.Level
}

func (a *logAction) Invoke(ctx context.Context, args dispatch.Args) error {
	payload := args.Message.Payload
	truncated := len(payload) > maxLoggedPayload
	if truncated {
		payload = payload[:maxLoggedPayload]
	}

	a.logger.Log(ctx, a.level, "message received",
		"route_id", args.RouteID,
		"client", args.ClientID,
		"topic", args.Message.Topic,
		"pattern", args.Pattern,
		"vars", args.Vars,
		"qos", args.Message.QoS,
		"retained", args.Message.Retained,
		"payload", string(payload),
		"truncated", truncated,
	)
	return nil
}

// republishAction forwards the payload to a rendered target topic.
type republishAction struct {
	publisher Publisher
	logger    *slog.Logger
	target    string
	client    string
	qos       *byte
	retained  bool
}

func (a *republishAction) Invoke(ctx context.Context, args dispatch.Args) error {
	target, err := Render(a.target, args.Vars)
	if err != nil {
		return err
	}

	opts := []clients.PublishOption{
		clients.WithRetained(a.retained),
		clients.WithCallback(func(err error) {
			if err != nil {
				a.logger.Warn("republish failed",
					"route_id", args.RouteID,
					"target", target,
					"error", err,
				)
			}
		}),
	}
	if a.qos != nil {
		opts = append(opts, clients.WithQoS(*a.qos))
	}

	// An empty payload is still forwarded; only a nil one is skipped.
	payload := args.Message.Payload
	if payload == nil {
		payload = []byte{}
	}
	return a.publisher.Publish(ctx, a.client, target, payload, opts...)
}

// Render replaces {name} placeholders in tmpl with vars. A placeholder
// without a value is an error.
func Render(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if !topic.ValidName(name) {
			return m
		}
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %q", ErrUnresolvedTarget, strings.Join(missing, ", "), tmpl)
	}
	return out, nil
}
