// Package api is the public entry point to the interception bridge.
package api

import (
	"context"

	"cdpintercept/internal/logger"
	"cdpintercept/internal/service"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// Service is the interception bridge API.
type Service interface {
	// StartSession creates a session for a DevTools endpoint.
	StartSession(cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession aborts pending exchanges and destroys the session.
	StopSession(id domain.SessionID) error

	// AttachTarget attaches a browser target; empty picks the first page.
	AttachTarget(ctx context.Context, id domain.SessionID, target domain.TargetID) error

	// DetachTarget detaches a target, aborting its pending exchanges.
	DetachTarget(id domain.SessionID, target domain.TargetID) error

	// ListTargets enumerates attachable targets.
	ListTargets(ctx context.Context, id domain.SessionID) ([]domain.TargetInfo, error)

	// EnableInterception starts pausing traffic on attached targets.
	EnableInterception(ctx context.Context, id domain.SessionID) error

	// DisableInterception stops pausing traffic.
	DisableInterception(ctx context.Context, id domain.SessionID) error

	// GetCookies returns browser cookies from a target, optionally
	// filtered by URLs.
	GetCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, urls []string) ([]domain.Cookie, error)

	// AddCookies writes cookies into the browser.
	AddCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, cookies []domain.Cookie) error

	// RemoveCookies deletes cookies by name, optionally scoped to a
	// domain and path.
	RemoveCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, name, cookieDomain, path string) error

	// InjectFetch issues a request from inside the page via the
	// browser's own fetch; interception rules apply to it like to any
	// page traffic.
	InjectFetch(ctx context.Context, id domain.SessionID, target domain.TargetID, req *traffic.Request) (*traffic.Response, error)

	// LoadRules replaces the session's ruleset atomically.
	LoadRules(id domain.SessionID, cfg *rulespec.Config) error

	// RegisterRule appends one rule.
	RegisterRule(id domain.SessionID, rule rulespec.Rule) (domain.RuleID, error)

	// UnregisterRule removes one rule by ID.
	UnregisterRule(id domain.SessionID, rule domain.RuleID) error

	// ListRules returns the ruleset in registration order.
	ListRules(id domain.SessionID) ([]rulespec.Rule, error)

	// GetRuleStats returns cumulative matching counters.
	GetRuleStats(id domain.SessionID) (domain.EngineStats, error)

	// SubscribeEvents returns the session's observer stream.
	SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error)
}

// NewService creates the service implementation.
func NewService(l logger.Logger) Service {
	return service.New(l)
}
