package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/mafredri/cdp/protocol/network"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/traffic"
)

// BuildFetchExpression builds the in-page JS that performs a request
// through the browser's own fetch and returns the observed response as
// a JSON string. The request travels the normal network pipeline, so
// active interception rules apply to it like to any page traffic.
func BuildFetchExpression(req *traffic.Request) string {
	rawURL, _ := json.Marshal(req.URL)
	method := req.Method
	if method == "" {
		method = "GET"
	}
	rawMethod, _ := json.Marshal(method)
	rawHeaders, _ := json.Marshal(map[string]string(req.Headers))

	init := fmt.Sprintf("{method: %s, headers: %s, credentials: 'include'", rawMethod, rawHeaders)
	if len(req.Body) > 0 {
		rawBody, _ := json.Marshal(string(req.Body))
		init += ", body: " + string(rawBody)
	}
	init += "}"

	return fmt.Sprintf(`(async () => {
	const res = await fetch(%s, %s);
	const text = await res.text();
	const headers = {};
	res.headers.forEach((v, k) => { headers[k] = v; });
	return JSON.stringify({status: res.status, headers: headers, body: text});
})()`, rawURL, init)
}

// ParseInjectedResponse decodes the JSON string produced by the fetch
// expression into the neutral response model.
func ParseInjectedResponse(raw json.RawMessage) (*traffic.Response, error) {
	var payload string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("injected fetch result: %w", err)
	}
	var decoded struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("injected fetch payload: %w", err)
	}

	res := traffic.NewResponse()
	if decoded.Status != 0 {
		res.StatusCode = decoded.Status
	}
	for k, v := range decoded.Headers {
		res.Headers.Set(k, v)
	}
	res.Body = []byte(decoded.Body)
	return res, nil
}

// FromNetworkCookies converts CDP cookies to the neutral model.
func FromNetworkCookies(in []network.Cookie) []domain.Cookie {
	out := make([]domain.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out
}

// ToSetCookieArgs builds CDP SetCookie arguments. CDP requires a URL or
// a domain to scope the cookie; unset optional fields stay unset.
func ToSetCookieArgs(c domain.Cookie) *network.SetCookieArgs {
	args := network.NewSetCookieArgs(c.Name, c.Value)
	if c.URL != "" {
		args = args.SetURL(c.URL)
	}
	if c.Domain != "" {
		args = args.SetDomain(c.Domain)
	}
	if c.Path != "" {
		args = args.SetPath(c.Path)
	}
	if c.Secure {
		args = args.SetSecure(true)
	}
	if c.HTTPOnly {
		args = args.SetHTTPOnly(true)
	}
	return args
}
