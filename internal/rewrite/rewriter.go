// Package rewrite turns rule transform payloads into concrete
// request/response mutations and synthesizes mock responses.
package rewrite

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/sjson"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// Rewriter applies rule transforms. It is stateless apart from its
// logger and safe for concurrent use.
type Rewriter struct {
	log logger.Logger
}

// New creates a rewriter.
func New(l logger.Logger) *Rewriter {
	if l == nil {
		l = logger.NewNop()
	}
	return &Rewriter{log: l}
}

// RequestMutation builds the request-stage mutation for one transform.
// Only fields set in the transform are carried over; a transform that
// references response-only fields fails with ErrInvalidTransformation.
func (r *Rewriter) RequestMutation(t *rulespec.Transform, req *traffic.Request) (*RequestMutation, error) {
	if t == nil {
		return &RequestMutation{}, nil
	}
	if t.Status != nil {
		return nil, fmt.Errorf("%w: status override before a response exists", domain.ErrInvalidTransformation)
	}

	mut := &RequestMutation{
		URL:           t.URL,
		Method:        t.Method,
		RemoveHeaders: append([]string(nil), t.RemoveHeaders...),
		RemoveQuery:   append([]string(nil), t.RemoveQuery...),
		RemoveCookies: append([]string(nil), t.RemoveCookies...),
	}
	if len(t.Headers) > 0 {
		mut.Headers = copyMap(t.Headers)
	}
	if len(t.Query) > 0 {
		mut.Query = copyMap(t.Query)
	}
	if len(t.Cookies) > 0 {
		mut.Cookies = copyMap(t.Cookies)
	}
	if len(t.Body) > 0 {
		body, changed, err := r.applyBodyOps(string(req.Body), t.Body)
		if err != nil {
			return nil, err
		}
		if changed {
			mut.Body = &body
		}
	}
	return mut, nil
}

// ResponseMutation builds the response-stage mutation for one
// transform, starting from the current response body. A transform that
// references request-only fields fails with ErrInvalidTransformation.
func (r *Rewriter) ResponseMutation(t *rulespec.Transform, body string) (*ResponseMutation, error) {
	if t == nil {
		return &ResponseMutation{}, nil
	}
	if t.URL != nil || t.Method != nil ||
		len(t.Query) > 0 || len(t.RemoveQuery) > 0 ||
		len(t.Cookies) > 0 || len(t.RemoveCookies) > 0 {
		return nil, fmt.Errorf("%w: request fields at response stage", domain.ErrInvalidTransformation)
	}

	mut := &ResponseMutation{
		StatusCode:    t.Status,
		RemoveHeaders: append([]string(nil), t.RemoveHeaders...),
	}
	if len(t.Headers) > 0 {
		mut.Headers = copyMap(t.Headers)
	}
	if len(t.Body) > 0 {
		next, changed, err := r.applyBodyOps(body, t.Body)
		if err != nil {
			return nil, err
		}
		if changed {
			mut.Body = &next
		}
	}
	return mut, nil
}

// BuildMock synthesizes a response entirely from the rule payload. The
// original request is never forwarded to the network.
func (r *Rewriter) BuildMock(mock *rulespec.MockResponse) (*traffic.Response, error) {
	if mock == nil {
		return nil, fmt.Errorf("%w: mock action without payload", domain.ErrInvalidTransformation)
	}
	res := traffic.NewResponse()
	if mock.Status != 0 {
		res.StatusCode = mock.Status
	}
	for k, v := range mock.Headers {
		res.Headers.Set(k, v)
	}
	body := mock.Body
	if mock.BodyEncoding == rulespec.BodyEncodingBase64 {
		raw, err := base64.StdEncoding.DecodeString(mock.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: mock body: %v", domain.ErrInvalidTransformation, err)
		}
		body = string(raw)
	}
	res.Body = []byte(body)
	return res, nil
}

// applyBodyOps runs the op sequence; each op observes the output of the
// previous one.
func (r *Rewriter) applyBodyOps(body string, ops []rulespec.BodyOp) (string, bool, error) {
	current := body
	for _, op := range ops {
		switch op.Op {
		case rulespec.BodyOpSet:
			v, err := op.DecodedValue()
			if err != nil {
				return "", false, fmt.Errorf("%w: %v", domain.ErrInvalidTransformation, err)
			}
			current = v

		case rulespec.BodyOpAppend:
			v, err := op.DecodedValue()
			if err != nil {
				return "", false, fmt.Errorf("%w: %v", domain.ErrInvalidTransformation, err)
			}
			current += v

		case rulespec.BodyOpReplaceText:
			if op.ReplaceAll {
				current = strings.ReplaceAll(current, op.Search, op.Replace)
			} else {
				current = strings.Replace(current, op.Search, op.Replace, 1)
			}

		case rulespec.BodyOpJSONPatch:
			next, err := r.applyJSONPatches(current, op.Patches)
			if err != nil {
				return "", false, fmt.Errorf("%w: %v", domain.ErrInvalidTransformation, err)
			}
			current = next

		case rulespec.BodyOpForm:
			next, err := applyFormEdits(current, op.Set, op.Remove)
			if err != nil {
				return "", false, fmt.Errorf("%w: %v", domain.ErrInvalidTransformation, err)
			}
			current = next

		default:
			return "", false, fmt.Errorf("%w: unknown body op %q", domain.ErrInvalidTransformation, op.Op)
		}
	}
	return current, current != body, nil
}

// applyJSONPatches applies JSON pointer patches through sjson.
func (r *Rewriter) applyJSONPatches(body string, patches []rulespec.JSONPatchOp) (string, error) {
	current := body
	for _, patch := range patches {
		if patch.Path == "" {
			continue
		}
		// JSON pointer (/a/b/0) to sjson path (a.b.0).
		path := strings.ReplaceAll(strings.TrimPrefix(patch.Path, "/"), "/", ".")

		var err error
		switch patch.Op {
		case "add", "replace":
			current, err = sjson.Set(current, path, patch.Value)
		case "remove":
			current, err = sjson.Delete(current, path)
		default:
			err = fmt.Errorf("unknown json patch op %q", patch.Op)
		}
		if err != nil {
			r.log.Err(err, "json patch failed", "path", path, "op", patch.Op)
			return body, err
		}
	}
	return current, nil
}

// applyFormEdits edits a urlencoded body field by field.
func applyFormEdits(body string, set map[string]string, remove []string) (string, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return "", fmt.Errorf("parse form body: %v", err)
	}
	for _, name := range remove {
		form.Del(name)
	}
	for name, value := range set {
		form.Set(name, value)
	}
	return form.Encode(), nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
