// Package cdp converts between CDP Fetch-domain events and the neutral
// traffic model, and builds the continuation arguments for resumed
// exchanges.
package cdp

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"

	"cdpintercept/internal/rewrite"
	"cdpintercept/pkg/traffic"
)

// ToNeutralRequest converts a paused CDP event into the neutral
// request model. Header, query and cookie keys are lowercased.
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}

	if u, err := url.Parse(req.URL); err == nil {
		for key, vals := range u.Query() {
			if len(vals) > 0 {
				req.Query[strings.ToLower(key)] = vals[0]
			}
		}
	}

	if cookieHeader := req.Headers.Get("cookie"); cookieHeader != "" {
		for name, val := range ParseCookie(cookieHeader) {
			req.Cookies[strings.ToLower(name)] = val
		}
	}

	return req
}

// ToNeutralResponse converts the response part of a paused CDP event.
// The body is not included; it is fetched separately on demand.
func ToNeutralResponse(ev *fetch.RequestPausedReply) *traffic.Response {
	res := traffic.NewResponse()
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Set(h.Name, h.Value)
	}
	return res
}

// ParseCookie parses a Cookie request header value.
func ParseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		if kv := strings.SplitN(strings.TrimSpace(p), "=", 2); len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// BuildContinueRequestArgs folds a request mutation into CDP
// ContinueRequest arguments. Unset mutation fields pass the original
// request through unchanged.
func BuildContinueRequestArgs(ev *fetch.RequestPausedReply, mut *rewrite.RequestMutation) *fetch.ContinueRequestArgs {
	args := &fetch.ContinueRequestArgs{RequestID: ev.RequestID}
	if mut == nil {
		return args
	}

	if u := buildFinalURL(ev.Request.URL, mut); u != nil {
		args.URL = u
	}
	if mut.Method != nil {
		args.Method = mut.Method
	}
	if headers := buildFinalRequestHeaders(ev, mut); headers != nil {
		args.Headers = headers
	}
	if mut.Body != nil {
		args.PostData = []byte(*mut.Body)
	}
	return args
}

// BuildResponseArgs folds a response mutation into CDP arguments. A
// body edit forces FulfillRequest; header/status-only edits use
// ContinueResponse. Exactly one of the results is non-nil.
func BuildResponseArgs(ev *fetch.RequestPausedReply, mut *rewrite.ResponseMutation) (*fetch.ContinueResponseArgs, *fetch.FulfillRequestArgs) {
	if mut != nil && mut.Body != nil {
		code := 200
		if ev.ResponseStatusCode != nil {
			code = *ev.ResponseStatusCode
		}
		if mut.StatusCode != nil {
			code = *mut.StatusCode
		}
		return nil, &fetch.FulfillRequestArgs{
			RequestID:       ev.RequestID,
			ResponseCode:    code,
			ResponseHeaders: buildFinalResponseHeaders(ev, mut),
			Body:            []byte(*mut.Body),
		}
	}

	args := &fetch.ContinueResponseArgs{RequestID: ev.RequestID}
	if mut == nil || mut.Empty() {
		return args, nil
	}

	// CDP requires status code and headers together when either is
	// overridden.
	code := 200
	if ev.ResponseStatusCode != nil {
		code = *ev.ResponseStatusCode
	}
	if mut.StatusCode != nil {
		code = *mut.StatusCode
	}
	args.ResponseCode = &code
	args.ResponseHeaders = buildFinalResponseHeaders(ev, mut)
	return args, nil
}

// FulfillArgs builds FulfillRequest arguments for a synthetic response.
func FulfillArgs(id fetch.RequestID, res *traffic.Response) *fetch.FulfillRequestArgs {
	args := &fetch.FulfillRequestArgs{
		RequestID:    id,
		ResponseCode: res.StatusCode,
	}
	if len(res.Headers) > 0 {
		args.ResponseHeaders = ToHeaderEntries(res.Headers)
	}
	if len(res.Body) > 0 {
		args.Body = res.Body
	}
	return args
}

// ToHeaderEntries converts a neutral header map to CDP header entries.
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

func buildFinalURL(originalURL string, mut *rewrite.RequestMutation) *string {
	if mut.URL == nil && len(mut.Query) == 0 && len(mut.RemoveQuery) == 0 {
		return nil
	}

	base := originalURL
	if mut.URL != nil {
		base = *mut.URL
	}
	if len(mut.Query) == 0 && len(mut.RemoveQuery) == 0 {
		return &base
	}

	u, err := url.Parse(base)
	if err != nil {
		return &base
	}
	q := u.Query()
	for _, name := range mut.RemoveQuery {
		q.Del(name)
	}
	for name, value := range mut.Query {
		q.Set(name, value)
	}
	u.RawQuery = q.Encode()
	result := u.String()
	return &result
}

func buildFinalRequestHeaders(ev *fetch.RequestPausedReply, mut *rewrite.RequestMutation) []fetch.HeaderEntry {
	if len(mut.Headers) == 0 && len(mut.RemoveHeaders) == 0 &&
		len(mut.Cookies) == 0 && len(mut.RemoveCookies) == 0 {
		return nil
	}

	headers := make(map[string]string)
	_ = json.Unmarshal(ev.Request.Headers, &headers)

	for _, name := range mut.RemoveHeaders {
		deleteFold(headers, name)
	}
	for name, value := range mut.Headers {
		deleteFold(headers, name)
		headers[name] = value
	}

	if len(mut.Cookies) > 0 || len(mut.RemoveCookies) > 0 {
		var cookieStr string
		for k, v := range headers {
			if strings.EqualFold(k, "cookie") {
				cookieStr = v
				break
			}
		}
		cookies := ParseCookie(cookieStr)
		for _, name := range mut.RemoveCookies {
			delete(cookies, name)
		}
		for name, value := range mut.Cookies {
			cookies[name] = value
		}
		deleteFold(headers, "cookie")
		if len(cookies) > 0 {
			parts := make([]string, 0, len(cookies))
			for k, v := range cookies {
				parts = append(parts, k+"="+v)
			}
			headers["Cookie"] = strings.Join(parts, "; ")
		}
	}

	entries := make([]fetch.HeaderEntry, 0, len(headers))
	for k, v := range headers {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

func buildFinalResponseHeaders(ev *fetch.RequestPausedReply, mut *rewrite.ResponseMutation) []fetch.HeaderEntry {
	headers := make(map[string]string, len(ev.ResponseHeaders))
	for _, h := range ev.ResponseHeaders {
		headers[h.Name] = h.Value
	}

	for _, name := range mut.RemoveHeaders {
		deleteFold(headers, name)
	}

	// A rewritten body invalidates length/encoding validators.
	if mut.Body != nil {
		for _, name := range []string{"content-encoding", "content-length", "content-md5", "etag"} {
			deleteFold(headers, name)
		}
	}

	for name, value := range mut.Headers {
		deleteFold(headers, name)
		headers[name] = value
	}

	entries := make([]fetch.HeaderEntry, 0, len(headers))
	for k, v := range headers {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

func deleteFold(m map[string]string, name string) {
	for k := range m {
		if strings.EqualFold(k, name) {
			delete(m, k)
		}
	}
}
