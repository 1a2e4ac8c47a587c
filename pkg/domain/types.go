package domain

type SessionID string
type TargetID string
type RuleID string

// SessionConfig configures one interception session.
type SessionConfig struct {
	DevToolsURL       string `json:"devToolsURL"`
	Concurrency       int    `json:"concurrency"`
	BodySizeThreshold int64  `json:"bodySizeThreshold"`
	PendingCapacity   int    `json:"pendingCapacity"`
	ProcessTimeoutMS  int    `json:"processTimeoutMS"`
	AuditDSN          string `json:"auditDSN"`
}

type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}

// RequestInfo is a snapshot of an intercepted request.
type RequestInfo struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	ResourceType string            `json:"resourceType"`
	Body         string            `json:"body"`
}

// ResponseInfo is a snapshot of an intercepted response.
type ResponseInfo struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// RuleMatch records one rule that matched an exchange.
type RuleMatch struct {
	RuleID   RuleID `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Action   string `json:"action"`
}

// InterceptEvent is emitted to observers for every processed exchange.
type InterceptEvent struct {
	Type         string       `json:"type"`
	Session      SessionID    `json:"session"`
	Target       TargetID     `json:"target"`
	Timestamp    int64        `json:"timestamp"`
	Stage        string       `json:"stage"`
	IsMatched    bool         `json:"isMatched"`
	Request      RequestInfo  `json:"request"`
	Response     ResponseInfo `json:"response"`
	FinalResult  string       `json:"finalResult"`
	MatchedRules []RuleMatch  `json:"matchedRules"`
	Err          error        `json:"-"`
}

// Cookie is one browser cookie. URL scopes writes when no domain is
// given; reads never populate it.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	URL      string `json:"url,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
}
