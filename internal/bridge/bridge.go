// Package bridge consumes paused driver events, evaluates rules,
// applies rewrites and resolves every exchange exactly once.
package bridge

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cdpintercept/internal/driver"
	"cdpintercept/internal/exchange"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rewrite"
	"cdpintercept/internal/rules"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 8
	defaultBodyLimit   = 2 << 20
)

// Recorder persists processed exchanges. Implemented by the storage
// package; nil disables auditing.
type Recorder interface {
	Record(evt domain.InterceptEvent)
}

// Config wires one bridge.
type Config struct {
	Session        domain.SessionID
	Driver         driver.Driver
	Engine         *rules.Engine
	Rewriter       *rewrite.Rewriter
	Events         chan<- domain.InterceptEvent
	Store          Recorder
	Logger         logger.Logger
	Concurrency    int
	ProcessTimeout time.Duration
	// BodyLimit caps captured and fetched body sizes in bytes.
	BodyLimit int64
}

// Bridge owns the exchanges of one attached target. Independent
// exchanges are processed concurrently; no ordering is guaranteed
// between them.
type Bridge struct {
	session   domain.SessionID
	drv       driver.Driver
	engine    *rules.Engine
	rw        *rewrite.Rewriter
	events    chan<- domain.InterceptEvent
	store     Recorder
	log       logger.Logger
	timeout   time.Duration
	bodyLimit int64
	sem       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	pending *pendingSet
	done    chan struct{}
}

// New creates a bridge. Call Run to start consuming.
func New(cfg Config) *Bridge {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	rw := cfg.Rewriter
	if rw == nil {
		rw = rewrite.New(l)
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		session:   cfg.Session,
		drv:       cfg.Driver,
		engine:    cfg.Engine,
		rw:        rw,
		events:    cfg.Events,
		store:     cfg.Store,
		log:       l,
		timeout:   timeout,
		bodyLimit: bodyLimit,
		sem:       make(chan struct{}, concurrency),
		ctx:       ctx,
		cancel:    cancel,
		pending:   newPendingSet(),
		done:      make(chan struct{}),
	}
}

// Run consumes the driver's event stream until the stream closes or
// Stop is called. Every pending exchange is aborted on the way out; a
// terminated driver session surfaces as one disconnected event.
func (b *Bridge) Run() {
	defer close(b.done)

	for {
		select {
		case ev, ok := <-b.drv.Events():
			if !ok {
				b.shutdown()
				if err := b.drv.Err(); err != nil {
					b.emit(domain.InterceptEvent{Type: "disconnected", Err: err})
				}
				return
			}
			b.dispatch(ev)
		case <-b.ctx.Done():
			b.shutdown()
			return
		}
	}
}

// Stop cancels the bridge and aborts all pending exchanges. It returns
// once the consume loop has exited.
func (b *Bridge) Stop() {
	b.cancel()
	<-b.done
}

// dispatch hands one paused event to a worker, or degrades to a plain
// continue when the pool is saturated.
func (b *Bridge) dispatch(ev driver.PausedEvent) {
	select {
	case b.sem <- struct{}{}:
		go func() {
			defer func() { <-b.sem }()
			b.handle(ev)
		}()
	default:
		b.degradeAndContinue(ev, "worker pool saturated")
	}
}

// handle processes one exchange end to end.
func (b *Bridge) handle(ev driver.PausedEvent) {
	x := exchange.New(ev.ID, ev.Target, ev.Stage, ev.Request, ev.Response)
	b.pending.add(x)
	defer b.pending.remove(x.ID)

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	start := time.Now()
	b.log.Debug("exchange paused", "id", x.ID, "stage", string(x.Stage), "url", ev.Request.URL, "method", ev.Request.Method)

	var matched []*rules.MatchedRule
	if b.engine != nil {
		matched = b.engine.EvalForStage(evalContext(ev), ev.Stage)
	}
	if len(matched) == 0 {
		b.finish(ctx, x, nil, nil, "passed", nil, start)
		return
	}

	switch matched[0].Rule.Action {
	case rulespec.ActionBlock:
		b.resolveAbort(ctx, x)
		b.emitResolved(x, "blocked", matched, nil, nil, start)

	case rulespec.ActionMock:
		res, err := b.rw.BuildMock(matched[0].Rule.Mock)
		if err != nil {
			b.log.Err(err, "mock synthesis failed", "id", x.ID, "rule", matched[0].Rule.ID)
			b.finish(ctx, x, nil, nil, "passed", matched, start)
			return
		}
		b.resolveFulfill(ctx, x, res)
		b.emitResolved(x, "fulfilled", matched, nil, res, start)

	case rulespec.ActionModify:
		if x.Stage == rulespec.StageRequest {
			mut := b.aggregateRequest(x, matched)
			b.finish(ctx, x, mut, nil, resultFor(!mut.Empty()), matched, start)
		} else {
			mut := b.aggregateResponse(ctx, x, matched)
			b.finish(ctx, x, nil, mut, resultFor(!mut.Empty()), matched, start)
		}

	default: // pass
		b.finish(ctx, x, nil, nil, "passed", matched, start)
	}
}

// aggregateRequest composes the request mutations of all matched
// modify rules. Later rules observe earlier body edits. A rule whose
// transform is invalid for the stage is skipped and reported; the
// exchange itself survives.
func (b *Bridge) aggregateRequest(x *exchange.Exchange, matched []*rules.MatchedRule) *rewrite.RequestMutation {
	agg := &rewrite.RequestMutation{}
	current := x.Request.Clone()
	for _, m := range matched {
		mut, err := b.rw.RequestMutation(m.Rule.Transform, current)
		if err != nil {
			b.reportRuleError(x, m.Rule.ID, err)
			continue
		}
		agg.Merge(mut)
		if mut.Body != nil {
			current.Body = []byte(*mut.Body)
		}
	}
	return agg
}

// aggregateResponse composes response mutations, threading the body
// through the chain. The original body is fetched once, up front.
func (b *Bridge) aggregateResponse(ctx context.Context, x *exchange.Exchange, matched []*rules.MatchedRule) *rewrite.ResponseMutation {
	var body string
	if b.bodyTooLarge(x.Response) {
		b.log.Debug("response body exceeds capture limit, skipping fetch", "id", x.ID, "limit", b.bodyLimit)
	} else if raw, err := b.drv.ResponseBody(ctx, x.ID); err != nil {
		b.log.Debug("response body unavailable", "id", x.ID, "error", err)
	} else {
		body = string(raw)
	}

	agg := &rewrite.ResponseMutation{}
	current := body
	for _, m := range matched {
		mut, err := b.rw.ResponseMutation(m.Rule.Transform, current)
		if err != nil {
			b.reportRuleError(x, m.Rule.ID, err)
			continue
		}
		agg.Merge(mut)
		if mut.Body != nil {
			current = *mut.Body
		}
	}
	return agg
}

// finish continues the exchange with the aggregated mutation (possibly
// none) and emits the trailing event.
func (b *Bridge) finish(ctx context.Context, x *exchange.Exchange, reqMut *rewrite.RequestMutation, resMut *rewrite.ResponseMutation, result string, matched []*rules.MatchedRule, start time.Time) {
	b.resolveContinue(ctx, x, reqMut, resMut)
	b.emitResolved(x, result, matched, reqMut, nil, start)
}

// resolveContinue is the terminal transition for forwarded exchanges.
func (b *Bridge) resolveContinue(ctx context.Context, x *exchange.Exchange, reqMut *rewrite.RequestMutation, resMut *rewrite.ResponseMutation) {
	if err := x.Resolve(exchange.StateContinued); err != nil {
		b.log.Warn("continue skipped", "id", x.ID, "error", err)
		return
	}
	var err error
	if x.Stage == rulespec.StageResponse {
		err = b.drv.ContinueResponse(ctx, x.ID, resMut)
	} else {
		err = b.drv.ContinueRequest(ctx, x.ID, reqMut)
	}
	b.reportDriverError(ctx, x, err)
}

// resolveAbort is the terminal transition for blocked exchanges.
func (b *Bridge) resolveAbort(ctx context.Context, x *exchange.Exchange) {
	if err := x.Resolve(exchange.StateAborted); err != nil {
		b.log.Warn("abort skipped", "id", x.ID, "error", err)
		return
	}
	b.reportDriverError(ctx, x, b.drv.Abort(ctx, x.ID))
}

// resolveFulfill is the terminal transition for mocked exchanges. The
// original request is never forwarded to the network.
func (b *Bridge) resolveFulfill(ctx context.Context, x *exchange.Exchange, res *traffic.Response) {
	if err := x.Resolve(exchange.StateFulfilled); err != nil {
		b.log.Warn("fulfill skipped", "id", x.ID, "error", err)
		return
	}
	b.reportDriverError(ctx, x, b.drv.Fulfill(ctx, x.ID, res))
}

// degradeAndContinue lets an exchange through untouched when it cannot
// be processed.
func (b *Bridge) degradeAndContinue(ev driver.PausedEvent, reason string) {
	b.log.Warn("degrading to plain continue", "id", ev.ID, "reason", reason)
	x := exchange.New(ev.ID, ev.Target, ev.Stage, ev.Request, ev.Response)
	ctx, cancel := context.WithTimeout(b.ctx, time.Second)
	defer cancel()
	b.resolveContinue(ctx, x, nil, nil)
	b.emit(domain.InterceptEvent{Type: "degraded", Target: ev.Target, Request: b.requestInfo(ev.Request)})
}

// shutdown aborts every pending exchange. Cancellation propagates from
// the owning context to each of them.
func (b *Bridge) shutdown() {
	for _, x := range b.pending.drain() {
		if err := x.Resolve(exchange.StateAborted); err != nil {
			continue // already terminal
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := b.drv.Abort(ctx, x.ID); err != nil {
			b.log.Debug("abort on shutdown failed", "id", x.ID, "error", err)
		}
		cancel()
		b.emit(domain.InterceptEvent{
			Type:        "aborted",
			Target:      x.Target,
			Stage:       string(x.Stage),
			Request:     b.requestInfo(x.Request),
			FinalResult: "aborted",
		})
	}
}

// reportRuleError surfaces a per-rule transformation failure without
// affecting other in-flight exchanges or remaining rules.
func (b *Bridge) reportRuleError(x *exchange.Exchange, ruleID string, err error) {
	b.log.Warn("transformation rejected", "id", x.ID, "rule", ruleID, "error", err)
	b.emit(domain.InterceptEvent{
		Type:    "rule_error",
		Target:  x.Target,
		Stage:   string(x.Stage),
		Request: b.requestInfo(x.Request),
		Err:     err,
	})
}

// reportDriverError classifies a resolution failure. A deadline hit
// means the exchange outlived its processing window; the browser-side
// request is then released with a failsafe abort so it does not stay
// paused until the driver gives up on its own.
func (b *Bridge) reportDriverError(ctx context.Context, x *exchange.Exchange, err error) {
	if err == nil {
		return
	}
	evt := domain.InterceptEvent{
		Type:    "resolution_error",
		Target:  x.Target,
		Stage:   string(x.Stage),
		Request: b.requestInfo(x.Request),
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.ErrTimeout
		b.failsafeAbort(x)
		evt.FinalResult = "aborted"
	}
	evt.Err = err
	b.log.Err(err, "resolution failed", "id", x.ID, "stage", string(x.Stage))
	b.emit(evt)
}

// failsafeAbort releases a paused browser request whose resolution call
// timed out. Best effort, on a fresh context.
func (b *Bridge) failsafeAbort(x *exchange.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.drv.Abort(ctx, x.ID); err != nil {
		b.log.Debug("failsafe abort failed", "id", x.ID, "error", err)
	}
}

func (b *Bridge) emitResolved(x *exchange.Exchange, result string, matched []*rules.MatchedRule, reqMut *rewrite.RequestMutation, mock *traffic.Response, start time.Time) {
	evt := domain.InterceptEvent{
		Type:         "resolved",
		Target:       x.Target,
		Stage:        string(x.Stage),
		IsMatched:    len(matched) > 0,
		Request:      b.requestInfo(x.Request),
		FinalResult:  result,
		MatchedRules: ruleMatches(matched),
	}
	if mock != nil {
		evt.Response = domain.ResponseInfo{
			StatusCode: mock.StatusCode,
			Headers:    map[string]string(mock.Headers),
			Body:       string(mock.Body),
		}
	} else if x.Response != nil {
		evt.Response = domain.ResponseInfo{
			StatusCode: x.Response.StatusCode,
			Headers:    map[string]string(x.Response.Headers),
		}
	}
	b.emit(evt)
	b.log.Debug("exchange resolved", "id", x.ID, "result", result, "duration", time.Since(start))
}

// emit stamps and delivers an event without ever blocking the
// interception path.
func (b *Bridge) emit(evt domain.InterceptEvent) {
	evt.Session = b.session
	evt.Timestamp = time.Now().UnixMilli()
	if b.store != nil {
		b.store.Record(evt)
	}
	if b.events == nil {
		return
	}
	select {
	case b.events <- evt:
	default:
	}
}

func resultFor(modified bool) string {
	if modified {
		return "modified"
	}
	return "passed"
}

func evalContext(ev driver.PausedEvent) *rules.EvalContext {
	return &rules.EvalContext{
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: ev.Request.ResourceType,
		Headers:      map[string]string(ev.Request.Headers),
		Query:        ev.Request.Query,
		Cookies:      ev.Request.Cookies,
		Body:         string(ev.Request.Body),
	}
}

// requestInfo snapshots a request for events, capping the captured body.
func (b *Bridge) requestInfo(req *traffic.Request) domain.RequestInfo {
	if req == nil {
		return domain.RequestInfo{}
	}
	body := req.Body
	if int64(len(body)) > b.bodyLimit {
		body = body[:b.bodyLimit]
	}
	return domain.RequestInfo{
		URL:          req.URL,
		Method:       req.Method,
		Headers:      map[string]string(req.Headers),
		ResourceType: req.ResourceType,
		Body:         string(body),
	}
}

// bodyTooLarge reports whether the advertised response size exceeds the
// capture limit.
func (b *Bridge) bodyTooLarge(res *traffic.Response) bool {
	if res == nil {
		return false
	}
	cl := res.Headers.Get("content-length")
	if cl == "" {
		return false
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	return err == nil && n > b.bodyLimit
}

func ruleMatches(matched []*rules.MatchedRule) []domain.RuleMatch {
	if len(matched) == 0 {
		return nil
	}
	out := make([]domain.RuleMatch, len(matched))
	for i, m := range matched {
		out[i] = domain.RuleMatch{
			RuleID:   domain.RuleID(m.Rule.ID),
			RuleName: m.Rule.Name,
			Action:   string(m.Rule.Action),
		}
	}
	return out
}
