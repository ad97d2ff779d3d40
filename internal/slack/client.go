// Package slack invites people to Slack workspaces as a privilege grant action.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"kompassi.org/internal/access"
	"kompassi.org/internal/obs"
)

// GrantCode is the registry key of the Slack invitation grant action.
const GrantCode = "access.slack:invite"

const (
	defaultTimeout = 10 * time.Second
	// users.admin.invite is a tier 2 method, roughly 20 calls per minute.
	defaultRate  = rate.Limit(1.0 / 3)
	defaultBurst = 3
	maxBody      = 1 << 20
)

// Slack error codes reporting that the invitee is already there.
const (
	codeAlreadyInvited = "already_invited"
	codeAlreadyInTeam  = "already_in_team"
)

// IntegrationError is returned for every failed invitation. Payload holds
// the decoded response when one was available and Code its error field.
type IntegrationError struct {
	Cause   error
	Code    string
	Payload map[string]any
}

func (e *IntegrationError) Error() string {
	return "slack: " + e.Cause.Error()
}

func (e *IntegrationError) Unwrap() error { return e.Cause }

// AlreadyMember reports whether Slack refused the invitation because the
// person was invited before or already belongs to the workspace.
func (e *IntegrationError) AlreadyMember() bool {
	return e.Code == codeAlreadyInvited || e.Code == codeAlreadyInTeam
}

// Client calls the Slack invitation API.
type Client struct {
	http     *http.Client
	endpoint func(team string) string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithEndpoint overrides how the invitation URL is built from a team name.
func WithEndpoint(fn func(team string) string) Option {
	return func(c *Client) {
		if fn != nil {
			c.endpoint = fn
		}
	}
}

// WithRateLimit bounds outbound invitations. A non-positive limit disables it.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: defaultTimeout},
		endpoint: DefaultEndpoint,
		limiter:  rate.NewLimiter(defaultRate, defaultBurst),
		logger:   obs.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultEndpoint returns the invitation URL of a workspace.
func DefaultEndpoint(team string) string {
	return "https://" + url.PathEscape(team) + ".slack.com/api/users.admin.invite"
}

// Invite sends person an invitation to the workspace configured by sa.
// With the test token nothing is sent and both return values are nil.
func (c *Client) Invite(ctx context.Context, sa access.SlackAccess, person access.Person) (map[string]any, error) {
	if sa.TestMode() {
		obs.ObserveSlackInvite("test_mode")
		c.logger.Warn("slack test token configured, not inviting",
			"team", sa.TeamName,
			"person", person.NameAndEmail(),
		)
		return nil, nil
	}

	payload, err := c.invite(ctx, sa, person)
	if err != nil {
		obs.ObserveSlackInvite("error")
		var ie *IntegrationError
		if !errors.As(err, &ie) {
			ie = &IntegrationError{Cause: err}
		}
		return nil, ie
	}
	obs.ObserveSlackInvite("ok")
	c.logger.Info("slack invitation sent", "team", sa.TeamName, "person_id", person.ID)
	return payload, nil
}

func (c *Client) invite(ctx context.Context, sa access.SlackAccess, person access.Person) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	q := url.Values{}
	q.Set("token", sa.APIToken)
	q.Set("email", person.Email)
	q.Set("first_name", person.FirstName)
	q.Set("last_name", person.Surname)
	q.Set("set_active", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(sa.TeamName)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invite request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if ok, _ := payload["ok"].(bool); !ok {
		msg, _ := payload["error"].(string)
		if msg == "" {
			msg = "ok is false or missing"
		}
		code, _ := payload["error"].(string)
		return nil, &IntegrationError{Cause: errors.New(msg), Code: code, Payload: payload}
	}
	return payload, nil
}

// GrantFunc adapts c into a registry grant function. The workspace is looked
// up from the privilege's SlackAccess configuration. A person who was already
// invited or is already in the workspace counts as granted, so a grant that
// runs again after a partial failure still completes.
func GrantFunc(c *Client, store access.PrivilegeStore) access.GrantFunc {
	return func(ctx context.Context, privilege access.Privilege, person access.Person) error {
		sa, err := store.SlackAccessFor(ctx, privilege.ID)
		if err != nil {
			return fmt.Errorf("slack access for %s: %w", privilege.Slug, err)
		}
		_, err = c.Invite(ctx, *sa, person)
		var ie *IntegrationError
		if errors.As(err, &ie) && ie.AlreadyMember() {
			c.logger.Info("slack invitee already present",
				"team", sa.TeamName,
				"person_id", person.ID,
				"code", ie.Code,
			)
			return nil
		}
		return err
	}
}

// Register installs the Slack grant action under GrantCode.
func Register(reg *access.Registry, c *Client, store access.PrivilegeStore) {
	reg.RegisterGrant(GrantCode, GrantFunc(c, store))
}
