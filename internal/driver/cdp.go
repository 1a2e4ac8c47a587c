package driver

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	conv "cdpintercept/internal/adapter/cdp"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rewrite"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

const eventBuffer = 64

// CDP is the Chrome DevTools Protocol driver. One CDP value owns one
// target connection; paused exchanges are tracked until resolved.
type CDP struct {
	target domain.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	events chan PausedEvent
	log    logger.Logger

	mu      sync.Mutex
	pending map[string]*fetch.RequestPausedReply

	errMu sync.Mutex
	err   error
}

// ListTargets enumerates attachable targets on a DevTools endpoint.
func ListTargets(ctx context.Context, devtoolsURL string) ([]domain.TargetInfo, error) {
	dt := devtool.New(devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, domain.TargetInfo{
			ID:    domain.TargetID(t.ID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// Dial attaches to a target on a DevTools endpoint. An empty target ID
// attaches to the first available page target.
func Dial(ctx context.Context, devtoolsURL string, target domain.TargetID, l logger.Logger) (*CDP, error) {
	if l == nil {
		l = logger.NewNop()
	}
	dt := devtool.New(devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover targets: %w", err)
	}

	var sel *devtool.Target
	for i := range targets {
		if target != "" && string(targets[i].ID) == string(target) {
			sel = targets[i]
			break
		}
		if target == "" && targets[i].Type == devtool.Page {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("no matching target %q", target)
	}

	dctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial target: %w", err)
	}

	return &CDP{
		target:  domain.TargetID(sel.ID),
		conn:    conn,
		client:  cdp.NewClient(conn),
		ctx:     dctx,
		cancel:  cancel,
		events:  make(chan PausedEvent, eventBuffer),
		log:     l.With("target", string(sel.ID)),
		pending: make(map[string]*fetch.RequestPausedReply),
	}, nil
}

// Target returns the attached target's ID.
func (d *CDP) Target() domain.TargetID { return d.target }

// EnableInterception enables the Fetch domain for both request and
// response stages and starts consuming paused events.
func (d *CDP) EnableInterception(ctx context.Context) error {
	if err := d.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("network enable: %w", err)
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := d.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("fetch enable: %w", err)
	}
	go d.consume()
	return nil
}

// DisableInterception stops pausing traffic on the target.
func (d *CDP) DisableInterception(ctx context.Context) error {
	return d.client.Fetch.Disable(ctx)
}

// Close tears down the connection. Consumers observe a closed event
// channel.
func (d *CDP) Close() error {
	d.cancel()
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Events implements Driver.
func (d *CDP) Events() <-chan PausedEvent { return d.events }

// Err implements Driver.
func (d *CDP) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *CDP) consume() {
	defer close(d.events)

	rp, err := d.client.Fetch.RequestPaused(d.ctx)
	if err != nil {
		d.setErr(err)
		return
	}
	defer rp.Close()

	d.log.Info("consuming paused events")
	for {
		ev, err := rp.Recv()
		if err != nil {
			if d.ctx.Err() == nil {
				d.log.Err(err, "paused event stream terminated")
				d.setErr(fmt.Errorf("%w: %v", domain.ErrDriverDisconnected, err))
			}
			return
		}
		d.dispatch(ev)
	}
}

func (d *CDP) dispatch(ev *fetch.RequestPausedReply) {
	stage := rulespec.StageRequest
	var res *traffic.Response
	if ev.ResponseStatusCode != nil {
		stage = rulespec.StageResponse
		res = conv.ToNeutralResponse(ev)
	}

	id := string(ev.RequestID)
	d.mu.Lock()
	d.pending[id] = ev
	d.mu.Unlock()

	select {
	case d.events <- PausedEvent{
		ID:       id,
		Target:   d.target,
		Stage:    stage,
		Request:  conv.ToNeutralRequest(ev),
		Response: res,
	}:
	case <-d.ctx.Done():
	}
}

// ContinueRequest implements Driver.
func (d *CDP) ContinueRequest(ctx context.Context, id string, mut *rewrite.RequestMutation) error {
	ev, err := d.take(id)
	if err != nil {
		return err
	}
	return d.client.Fetch.ContinueRequest(ctx, conv.BuildContinueRequestArgs(ev, mut))
}

// ContinueResponse implements Driver. A body edit is applied through
// FulfillRequest; CDP cannot stream a replaced body otherwise.
func (d *CDP) ContinueResponse(ctx context.Context, id string, mut *rewrite.ResponseMutation) error {
	ev, err := d.take(id)
	if err != nil {
		return err
	}
	contArgs, fulfillArgs := conv.BuildResponseArgs(ev, mut)
	if fulfillArgs != nil {
		return d.client.Fetch.FulfillRequest(ctx, fulfillArgs)
	}
	return d.client.Fetch.ContinueResponse(ctx, contArgs)
}

// Abort implements Driver. An exchange already taken by a failed
// resolution call can still be aborted; FailRequest only needs the ID.
func (d *CDP) Abort(ctx context.Context, id string) error {
	rid := fetch.RequestID(id)
	if ev, err := d.take(id); err == nil {
		rid = ev.RequestID
	}
	return d.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
		RequestID:   rid,
		ErrorReason: network.ErrorReasonAborted,
	})
}

// Fulfill implements Driver.
func (d *CDP) Fulfill(ctx context.Context, id string, res *traffic.Response) error {
	ev, err := d.take(id)
	if err != nil {
		return err
	}
	return d.client.Fetch.FulfillRequest(ctx, conv.FulfillArgs(ev.RequestID, res))
}

// ResponseBody implements Driver. The exchange stays pending; only
// resolution removes it.
func (d *CDP) ResponseBody(ctx context.Context, id string) ([]byte, error) {
	d.mu.Lock()
	ev, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", id)
	}

	rb, err := d.client.Fetch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID})
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	if rb.Base64Encoded {
		raw, err := base64.StdEncoding.DecodeString(rb.Body)
		if err != nil {
			return nil, fmt.Errorf("decode response body: %w", err)
		}
		return raw, nil
	}
	return []byte(rb.Body), nil
}

// InjectFetch issues an HTTP request from inside the page via the
// browser's own fetch and captures the response the page observed.
// The request passes through the interception pipeline like any other
// page traffic.
func (d *CDP) InjectFetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	expr := conv.BuildFetchExpression(req)
	args := runtime.NewEvaluateArgs(expr).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := d.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate injected fetch: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("injected fetch failed in page: %s", reply.ExceptionDetails.Text)
	}
	return conv.ParseInjectedResponse(reply.Result.Value)
}

// Cookies returns the browser cookies visible to the target, optionally
// filtered by URLs.
func (d *CDP) Cookies(ctx context.Context, urls []string) ([]domain.Cookie, error) {
	args := network.NewGetCookiesArgs()
	if len(urls) > 0 {
		args = args.SetURLs(urls)
	}
	reply, err := d.client.Network.GetCookies(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return conv.FromNetworkCookies(reply.Cookies), nil
}

// SetCookies writes cookies into the browser.
func (d *CDP) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	for _, c := range cookies {
		if _, err := d.client.Network.SetCookie(ctx, conv.ToSetCookieArgs(c)); err != nil {
			return fmt.Errorf("set cookie %q: %w", c.Name, err)
		}
	}
	return nil
}

// DeleteCookies removes cookies by name, optionally scoped to a domain
// and path.
func (d *CDP) DeleteCookies(ctx context.Context, name, domainName, path string) error {
	args := network.NewDeleteCookiesArgs(name)
	if domainName != "" {
		args = args.SetDomain(domainName)
	}
	if path != "" {
		args = args.SetPath(path)
	}
	return d.client.Network.DeleteCookies(ctx, args)
}

func (d *CDP) take(id string) (*fetch.RequestPausedReply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.pending[id]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", id)
	}
	delete(d.pending, id)
	return ev, nil
}

func (d *CDP) setErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err == nil {
		d.err = err
	}
}
