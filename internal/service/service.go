// Package service implements the public API facade.
package service

import (
	"context"
	"fmt"

	"cdpintercept/internal/logger"
	"cdpintercept/internal/session"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// Service orchestrates sessions on behalf of API consumers.
type Service struct {
	mgr *session.Manager
	log logger.Logger
}

// New creates the service.
func New(l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{mgr: session.NewManager(l), log: l}
}

// StartSession creates a session for a DevTools endpoint. When the
// config carries an audit DSN, resolved exchanges are persisted there.
func (s *Service) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", fmt.Errorf("devtools url is required")
	}

	var store *storage.Store
	if cfg.AuditDSN != "" {
		var err error
		store, err = storage.Open(cfg.AuditDSN, s.log)
		if err != nil {
			return "", err
		}
	}

	sess := s.mgr.Create(cfg, store)
	return sess.ID, nil
}

// StopSession aborts all pending exchanges and destroys the session.
func (s *Service) StopSession(id domain.SessionID) error {
	if _, ok := s.mgr.Get(id); !ok {
		return fmt.Errorf("%w: %q", domain.ErrSessionNotFound, id)
	}
	s.mgr.Delete(id)
	return nil
}

// AttachTarget attaches a browser target to the session. An empty
// target ID attaches the first available page.
func (s *Service) AttachTarget(ctx context.Context, id domain.SessionID, target domain.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Attach(ctx, target)
}

// DetachTarget detaches a target, aborting its pending exchanges.
func (s *Service) DetachTarget(id domain.SessionID, target domain.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Detach(target)
}

// ListTargets enumerates attachable targets.
func (s *Service) ListTargets(ctx context.Context, id domain.SessionID) ([]domain.TargetInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.ListTargets(ctx)
}

// EnableInterception starts pausing traffic on all attached targets.
func (s *Service) EnableInterception(ctx context.Context, id domain.SessionID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Enable(ctx)
}

// DisableInterception stops pausing traffic.
func (s *Service) DisableInterception(ctx context.Context, id domain.SessionID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Disable(ctx)
}

// GetCookies returns browser cookies from a target.
func (s *Service) GetCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, urls []string) ([]domain.Cookie, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.GetCookies(ctx, target, urls)
}

// AddCookies writes cookies into the browser.
func (s *Service) AddCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, cookies []domain.Cookie) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.AddCookies(ctx, target, cookies)
}

// RemoveCookies deletes cookies by name, optionally scoped to a domain
// and path.
func (s *Service) RemoveCookies(ctx context.Context, id domain.SessionID, target domain.TargetID, name, cookieDomain, path string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.RemoveCookies(ctx, target, name, cookieDomain, path)
}

// InjectFetch issues a request from inside the page and returns the
// response the page observed. Active interception rules apply to it.
func (s *Service) InjectFetch(ctx context.Context, id domain.SessionID, target domain.TargetID, req *traffic.Request) (*traffic.Response, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.InjectFetch(ctx, target, req)
}

// LoadRules replaces the session's ruleset from a configuration.
func (s *Service) LoadRules(id domain.SessionID, cfg *rulespec.Config) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.LoadRules(cfg)
}

// RegisterRule appends one rule; identical match+action pairs are
// rejected with ErrDuplicateRule.
func (s *Service) RegisterRule(id domain.SessionID, rule rulespec.Rule) (domain.RuleID, error) {
	sess, err := s.get(id)
	if err != nil {
		return "", err
	}
	return sess.Engine().Registry().Register(rule)
}

// UnregisterRule removes one rule by ID.
func (s *Service) UnregisterRule(id domain.SessionID, rule domain.RuleID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Engine().Registry().Unregister(rule)
}

// ListRules returns the session's ruleset in registration order.
func (s *Service) ListRules(id domain.SessionID) ([]rulespec.Rule, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Engine().Registry().Snapshot(), nil
}

// GetRuleStats returns cumulative matching counters.
func (s *Service) GetRuleStats(id domain.SessionID) (domain.EngineStats, error) {
	sess, err := s.get(id)
	if err != nil {
		return domain.EngineStats{}, err
	}
	return sess.Engine().Stats(), nil
}

// SubscribeEvents returns the session's observer stream.
func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}

func (s *Service) get(id domain.SessionID) (*session.Session, error) {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}
