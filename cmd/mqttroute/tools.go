package main

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-mqttroute/internal/auth"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// errNoMatch is returned by match when the topic does not match.
var errNoMatch = errors.New("topic does not match template")

func newMatchCmd() *cobra.Command {
	var numbers []string

	cmd := &cobra.Command{
		Use:   "match <template> <topic>",
		Short: "Compile a topic template and match a topic against it",
		Long: `Compile a topic template and report its subscription filter, matching
expression and the variables extracted from topic.

Placeholders match any text by default; --number restricts one to numbers.
The command exits non-zero when the topic does not match.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make(map[string]topic.ParamKind, len(numbers))
			for _, n := range numbers {
				kinds[n] = topic.KindNumber
			}

			filter, group, shared, err := topic.SplitShared(args[0])
			if err != nil {
				return err
			}
			p, err := topic.Compile(topic.Template{Topic: filter, Group: group, Shared: shared}, kinds)
			if err != nil {
				return err
			}
			if err := topic.ValidateTopic(args[1]); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "filter:    %s\n", p.Filter())
			fmt.Fprintf(out, "subscribe: %s\n", p.SubscribeTopic(true))
			if p.Parameterized() {
				fmt.Fprintf(out, "expr:      %s\n", p.Expr())
			}

			vars, ok := p.MatchVars(args[1])
			if !ok {
				fmt.Fprintln(out, "match:     false")
				return fmt.Errorf("%w: %s", errNoMatch, args[1])
			}
			fmt.Fprintln(out, "match:     true")

			names := make([]string, 0, len(vars))
			for name := range vars {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %s = %s\n", name, vars[name])
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&numbers, "number", nil, "placeholder that only matches numbers (repeatable)")
	return cmd
}

// clientPlan is one client's entry in the plan output.
type clientPlan struct {
	Client  string          `yaml:"client"`
	Default bool            `yaml:"default,omitempty"`
	Shared  bool            `yaml:"shared_subscription"`
	Filters map[string]byte `yaml:"filters"`
}

func newPlanCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the SUBSCRIBE plan of every configured client",
		Long: `Build the routes from the configuration and print, per client, the merged
filters it would subscribe to. No broker connection is made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			table, err := newTable(cfg, &lateBoundPublisher{}, logging.Discard())
			if err != nil {
				return err
			}
			clientCfgs, err := cfg.MQTT.ClientConfigs()
			if err != nil {
				return err
			}

			defaultID := cfg.MQTT.DefaultID()
			plans := make([]clientPlan, 0, len(clientCfgs))
			for _, cc := range clientCfgs {
				plans = append(plans, clientPlan{
					Client:  cc.ID,
					Default: cc.ID == defaultID,
					Shared:  cc.SharedSubscription,
					Filters: topic.Filters(table.Subscriptions(cc.ID, cc.SharedSubscription)),
				})
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"routes": table.Len(), "clients": plans}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.API.Auth.JWTSecret == "" {
				return errors.New("api.auth.jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
			}

			token, err := auth.IssueToken(cfg.API.Auth.JWTSecret, cfg.API.Auth.Issuer, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default api.auth.token_ttl)")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the Argon2id hash of a password for api.auth.operators",
		Long: `Print the Argon2id hash of a password. The password is read from the
first line of standard input when not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
