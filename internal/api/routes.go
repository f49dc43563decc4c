package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// RouteResponse describes a registered route.
type RouteResponse struct {
	ID       string            `json:"id"`
	Order    int               `json:"order"`
	Clients  []string          `json:"clients,omitempty"`
	Patterns []PatternResponse `json:"patterns"`
	Params   []ParamResponse   `json:"params"`
}

// PatternResponse describes one compiled topic template.
type PatternResponse struct {
	Template string   `json:"template"`
	Filter   string   `json:"filter"`
	Expr     string   `json:"expr,omitempty"`
	QoS      byte     `json:"qos"`
	Shared   bool     `json:"shared"`
	Group    string   `json:"group,omitempty"`
	Vars     []string `json:"vars,omitempty"`
}

// ParamResponse describes one handler parameter.
type ParamResponse struct {
	Source   string `json:"source"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

func routeResponse(r *dispatch.Route) RouteResponse {
	resp := RouteResponse{
		ID:      r.ID(),
		Order:   r.Order(),
		Clients: r.Clients(),
	}
	for _, p := range r.Patterns() {
		resp.Patterns = append(resp.Patterns, patternResponse(p))
	}
	for _, p := range r.Signature().Params() {
		resp.Params = append(resp.Params, ParamResponse{
			Source:   p.Source.String(),
			Name:     p.Name,
			Type:     p.Type.String(),
			Required: p.Required,
		})
	}
	return resp
}

func patternResponse(p *topic.Pattern) PatternResponse {
	resp := PatternResponse{
		Template: p.Topic(),
		Filter:   p.Filter(),
		Expr:     p.Expr(),
		QoS:      p.QoS(),
		Shared:   p.Shared(),
		Group:    p.Group(),
	}
	for _, v := range p.Params() {
		resp.Vars = append(resp.Vars, v.Name)
	}
	return resp
}

// handleListRoutes returns the routes in dispatch order, optionally
// restricted to those applying to ?client=.
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.table.Routes()
	if client := r.URL.Query().Get("client"); client != "" {
		routes = s.table.RoutesFor(client)
	}

	out := make([]RouteResponse, 0, len(routes))
	for _, route := range routes {
		out = append(out, routeResponse(route))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": out,
		"count":  len(out),
	})
}

// handleGetRoute returns one route.
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	route, ok := s.table.Route(id)
	if !ok {
		writeNotFound(w, "route not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse(route))
}

// SubscriptionPlan is the SUBSCRIBE request computed for one client.
type SubscriptionPlan struct {
	Client     string          `json:"client"`
	Shared     bool            `json:"shared_subscription"`
	Connected  *bool           `json:"connected,omitempty"`
	Planned    map[string]byte `json:"planned"`
	Subscribed map[string]byte `json:"subscribed,omitempty"`
}

// handleSubscriptions returns the merged filter plan of every managed
// client next to what the broker was actually asked for. With ?client=
// the plan is computed for that ID even when no such client is managed.
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	only := query.Get("client")

	var plans []SubscriptionPlan
	if s.clients != nil {
		for _, st := range s.clients.Statuses() {
			if only != "" && st.ID != only {
				continue
			}
			connected := st.Connected
			plans = append(plans, SubscriptionPlan{
				Client:     st.ID,
				Shared:     st.Shared,
				Connected:  &connected,
				Planned:    topic.Filters(s.table.Subscriptions(st.ID, st.Shared)),
				Subscribed: st.Subscriptions,
			})
		}
	}

	if only != "" && len(plans) == 0 {
		shared := query.Get("shared") == "true"
		plans = append(plans, SubscriptionPlan{
			Client:  only,
			Shared:  shared,
			Planned: topic.Filters(s.table.Subscriptions(only, shared)),
		})
	}

	slices.SortStableFunc(plans, func(a, b SubscriptionPlan) int {
		if a.Client < b.Client {
			return -1
		}
		if a.Client > b.Client {
			return 1
		}
		return 0
	})

	writeJSON(w, http.StatusOK, map[string]any{"clients": plans})
}

// matchRequest is the body of POST /match.
type matchRequest struct {
	Client string `json:"client"`
	Topic  string `json:"topic"`
}

// MatchResponse lists the routes that would handle a topic.
type MatchResponse struct {
	Topic   string                 `json:"topic"`
	Client  string                 `json:"client"`
	Matches []dispatch.MatchResult `json:"matches"`
}

// handleMatch reports which routes would handle a topic without invoking
// any handler.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := topic.ValidateTopic(req.Topic); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	matches := s.table.Match(req.Client, req.Topic)
	if matches == nil {
		matches = []dispatch.MatchResult{}
	}
	writeJSON(w, http.StatusOK, MatchResponse{
		Topic:   req.Topic,
		Client:  req.Client,
		Matches: matches,
	})
}
