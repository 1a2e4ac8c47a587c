// Package session ties drivers, bridges and the rule engine together
// for one DevTools endpoint.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdpintercept/internal/bridge"
	"cdpintercept/internal/driver"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rewrite"
	"cdpintercept/internal/rules"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

const defaultPendingCapacity = 256

// Session owns one interception session: a shared rule engine, an
// event stream and one bridge per attached target.
type Session struct {
	ID  domain.SessionID
	cfg domain.SessionConfig

	engine *rules.Engine
	rw     *rewrite.Rewriter
	events chan domain.InterceptEvent
	store  *storage.Store
	log    logger.Logger

	mu      sync.Mutex
	targets map[domain.TargetID]*attachedTarget
	enabled bool
}

type attachedTarget struct {
	drv *driver.CDP
	br  *bridge.Bridge
}

// New creates a session. store may be nil to disable auditing.
func New(id domain.SessionID, cfg domain.SessionConfig, store *storage.Store, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	capacity := cfg.PendingCapacity
	if capacity <= 0 {
		capacity = defaultPendingCapacity
	}
	return &Session{
		ID:      id,
		cfg:     cfg,
		engine:  rules.New(rules.NewRegistry()),
		rw:      rewrite.New(l),
		events:  make(chan domain.InterceptEvent, capacity),
		store:   store,
		log:     l.With("session", string(id)),
		targets: make(map[domain.TargetID]*attachedTarget),
	}
}

// Engine returns the session's rule engine.
func (s *Session) Engine() *rules.Engine { return s.engine }

// Events returns the session's observer stream.
func (s *Session) Events() <-chan domain.InterceptEvent { return s.events }

// ListTargets enumerates attachable targets on the session's endpoint.
func (s *Session) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	return driver.ListTargets(ctx, s.cfg.DevToolsURL)
}

// Attach dials a target and starts its bridge. If interception is
// already enabled on the session, the new target is enabled too.
func (s *Session) Attach(ctx context.Context, target domain.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[target]; ok {
		return fmt.Errorf("target %q already attached", target)
	}

	drv, err := driver.Dial(ctx, s.cfg.DevToolsURL, target, s.log)
	if err != nil {
		return err
	}

	var store bridge.Recorder
	if s.store != nil {
		store = s.store
	}
	br := bridge.New(bridge.Config{
		Session:        s.ID,
		Driver:         drv,
		Engine:         s.engine,
		Rewriter:       s.rw,
		Events:         s.events,
		Store:          store,
		Logger:         s.log,
		Concurrency:    s.cfg.Concurrency,
		ProcessTimeout: time.Duration(s.cfg.ProcessTimeoutMS) * time.Millisecond,
		BodyLimit:      s.cfg.BodySizeThreshold,
	})
	go br.Run()

	s.targets[drv.Target()] = &attachedTarget{drv: drv, br: br}
	s.log.Info("target attached", "target", string(drv.Target()))

	if s.enabled {
		if err := drv.EnableInterception(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Detach stops a target's bridge and closes its connection. All of the
// target's pending exchanges are aborted.
func (s *Session) Detach(target domain.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachLocked(target)
}

func (s *Session) detachLocked(target domain.TargetID) error {
	at, ok := s.targets[target]
	if !ok {
		return fmt.Errorf("target %q not attached", target)
	}
	delete(s.targets, target)

	at.br.Stop()
	if err := at.drv.Close(); err != nil {
		s.log.Debug("driver close failed", "target", string(target), "error", err)
	}
	s.log.Info("target detached", "target", string(target))
	return nil
}

// Enable turns interception on for every attached target.
func (s *Session) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, at := range s.targets {
		if err := at.drv.EnableInterception(ctx); err != nil {
			return fmt.Errorf("enable target %q: %w", id, err)
		}
	}
	s.enabled = true
	s.log.Info("interception enabled")
	return nil
}

// Disable turns interception off for every attached target.
func (s *Session) Disable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, at := range s.targets {
		if err := at.drv.DisableInterception(ctx); err != nil {
			return fmt.Errorf("disable target %q: %w", id, err)
		}
	}
	s.enabled = false
	s.log.Info("interception disabled")
	return nil
}

// GetCookies returns browser cookies from a target, optionally filtered
// by URLs. An empty target picks any attached one.
func (s *Session) GetCookies(ctx context.Context, target domain.TargetID, urls []string) ([]domain.Cookie, error) {
	drv, err := s.driverFor(target)
	if err != nil {
		return nil, err
	}
	return drv.Cookies(ctx, urls)
}

// AddCookies writes cookies into the browser.
func (s *Session) AddCookies(ctx context.Context, target domain.TargetID, cookies []domain.Cookie) error {
	drv, err := s.driverFor(target)
	if err != nil {
		return err
	}
	return drv.SetCookies(ctx, cookies)
}

// RemoveCookies deletes cookies by name, optionally scoped to a domain
// and path.
func (s *Session) RemoveCookies(ctx context.Context, target domain.TargetID, name, cookieDomain, path string) error {
	drv, err := s.driverFor(target)
	if err != nil {
		return err
	}
	return drv.DeleteCookies(ctx, name, cookieDomain, path)
}

// InjectFetch issues a request from inside the page; interception rules
// apply to it like to any page traffic.
func (s *Session) InjectFetch(ctx context.Context, target domain.TargetID, req *traffic.Request) (*traffic.Response, error) {
	drv, err := s.driverFor(target)
	if err != nil {
		return nil, err
	}
	return drv.InjectFetch(ctx, req)
}

// driverFor resolves a target to its driver. An empty target returns
// any attached one.
func (s *Session) driverFor(target domain.TargetID) (*driver.CDP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target != "" {
		at, ok := s.targets[target]
		if !ok {
			return nil, fmt.Errorf("target %q not attached", target)
		}
		return at.drv, nil
	}
	for _, at := range s.targets {
		return at.drv, nil
	}
	return nil, fmt.Errorf("no targets attached")
}

// LoadRules replaces the session's ruleset atomically.
func (s *Session) LoadRules(cfg *rulespec.Config) error {
	return s.engine.Registry().Replace(cfg.Rules)
}

// Close detaches every target.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.targets {
		_ = s.detachLocked(id)
	}
}
