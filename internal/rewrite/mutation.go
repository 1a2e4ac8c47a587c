package rewrite

// RequestMutation is the aggregated set of request-stage edits.
// Nil/empty fields leave the original value untouched.
type RequestMutation struct {
	URL           *string
	Method        *string
	Headers       map[string]string
	RemoveHeaders []string
	Query         map[string]string
	RemoveQuery   []string
	Cookies       map[string]string
	RemoveCookies []string
	Body          *string
}

// Merge folds src into m. Later edits win on conflicting fields.
func (m *RequestMutation) Merge(src *RequestMutation) {
	if src == nil {
		return
	}
	if src.URL != nil {
		m.URL = src.URL
	}
	if src.Method != nil {
		m.Method = src.Method
	}
	for k, v := range src.Headers {
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[k] = v
	}
	for k, v := range src.Query {
		if m.Query == nil {
			m.Query = make(map[string]string)
		}
		m.Query[k] = v
	}
	for k, v := range src.Cookies {
		if m.Cookies == nil {
			m.Cookies = make(map[string]string)
		}
		m.Cookies[k] = v
	}
	m.RemoveHeaders = append(m.RemoveHeaders, src.RemoveHeaders...)
	m.RemoveQuery = append(m.RemoveQuery, src.RemoveQuery...)
	m.RemoveCookies = append(m.RemoveCookies, src.RemoveCookies...)
	if src.Body != nil {
		m.Body = src.Body
	}
}

// Empty reports whether the mutation changes nothing.
func (m *RequestMutation) Empty() bool {
	if m == nil {
		return true
	}
	return m.URL == nil && m.Method == nil &&
		len(m.Headers) == 0 && len(m.Query) == 0 && len(m.Cookies) == 0 &&
		len(m.RemoveHeaders) == 0 && len(m.RemoveQuery) == 0 && len(m.RemoveCookies) == 0 &&
		m.Body == nil
}

// ResponseMutation is the aggregated set of response-stage edits.
type ResponseMutation struct {
	StatusCode    *int
	Headers       map[string]string
	RemoveHeaders []string
	Body          *string
}

// Merge folds src into m. Later edits win on conflicting fields.
func (m *ResponseMutation) Merge(src *ResponseMutation) {
	if src == nil {
		return
	}
	if src.StatusCode != nil {
		m.StatusCode = src.StatusCode
	}
	for k, v := range src.Headers {
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[k] = v
	}
	m.RemoveHeaders = append(m.RemoveHeaders, src.RemoveHeaders...)
	if src.Body != nil {
		m.Body = src.Body
	}
}

// Empty reports whether the mutation changes nothing.
func (m *ResponseMutation) Empty() bool {
	if m == nil {
		return true
	}
	return m.StatusCode == nil && len(m.Headers) == 0 &&
		len(m.RemoveHeaders) == 0 && m.Body == nil
}
