package traffic

import (
	"net/http"
	"strings"
)

// Header is a case-insensitive header map. Keys are stored lowercased.
type Header map[string]string

// Get returns the value for key, case-insensitively.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set stores value under the lowercased key.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del removes key, case-insensitively.
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request is the driver-neutral model of an intercepted request.
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      Header
	Body         []byte
	ResourceType string
	Query        map[string]string
	Cookies      map[string]string
}

// Clone returns a deep copy. Mutating the clone's headers, query,
// cookies, or body leaves the original untouched.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = r.Headers.Clone()
	out.Query = cloneMap(r.Query)
	out.Cookies = cloneMap(r.Cookies)
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Response is the driver-neutral model of an intercepted response.
type Response struct {
	StatusCode int
	Headers    Header
	Body       []byte
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = r.Headers.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewRequest creates an initialized request.
func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
		Query:   make(map[string]string),
		Cookies: make(map[string]string),
	}
}

// NewResponse creates an initialized response.
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}
