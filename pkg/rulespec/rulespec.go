// Package rulespec defines the rule configuration schema shared by the
// registry, the matcher and the rewriter.
package rulespec

import (
	"encoding/base64"
	"fmt"
)

// Stage selects which side of an exchange a rule applies to.
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
	StageBoth     Stage = "both"
)

// ActionKind is the disposition a rule requests for a matching exchange.
type ActionKind string

const (
	// ActionPass lets the exchange through untouched.
	ActionPass ActionKind = "pass"
	// ActionBlock aborts the exchange before it reaches the network.
	ActionBlock ActionKind = "block"
	// ActionModify rewrites parts of the request or response.
	ActionModify ActionKind = "modify"
	// ActionMock fulfills the exchange with a synthetic response
	// without forwarding it to the network.
	ActionMock ActionKind = "mock"
)

// Condition kinds.
const (
	CondURL    = "url"
	CondMethod = "method"
	CondHeader = "header"
	CondQuery  = "query"
	CondCookie = "cookie"
	CondText   = "text"
	CondJSON   = "json"
)

// URL match modes.
const (
	URLModeGlob   = "glob"
	URLModePrefix = "prefix"
	URLModeExact  = "exact"
	URLModeRegex  = "regex"
)

// Value operators for header/query/cookie/text/json conditions.
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpRegex    = "regex"
	OpExists   = "exists"
)

// Condition is a single predicate over an intercepted exchange.
type Condition struct {
	Type    string   `yaml:"type" json:"type"`
	Mode    string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Values  []string `yaml:"values,omitempty" json:"values,omitempty"`
	Key     string   `yaml:"key,omitempty" json:"key,omitempty"`
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	Op      string   `yaml:"op,omitempty" json:"op,omitempty"`
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`
}

// Match combines conditions. An empty Match matches everything.
type Match struct {
	AllOf  []Condition `yaml:"all_of,omitempty" json:"all_of,omitempty"`
	AnyOf  []Condition `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	NoneOf []Condition `yaml:"none_of,omitempty" json:"none_of,omitempty"`
}

// Body operation kinds.
const (
	BodyOpSet         = "set"
	BodyOpAppend      = "append"
	BodyOpReplaceText = "replace_text"
	BodyOpJSONPatch   = "json_patch"
	BodyOpForm        = "form"
)

const (
	BodyEncodingText   = "text"
	BodyEncodingBase64 = "base64"
)

// JSONPatchOp is one patch applied to a JSON body. Paths use JSON
// pointer syntax (/a/b/0) and are translated to sjson paths internally.
type JSONPatchOp struct {
	Op    string `yaml:"op" json:"op"`
	Path  string `yaml:"path" json:"path"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// BodyOp is one body transformation step. Steps run in order; each step
// observes the result of the previous one. The form op edits
// urlencoded bodies field by field.
type BodyOp struct {
	Op         string            `yaml:"op" json:"op"`
	Value      string            `yaml:"value,omitempty" json:"value,omitempty"`
	Encoding   string            `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Search     string            `yaml:"search,omitempty" json:"search,omitempty"`
	Replace    string            `yaml:"replace,omitempty" json:"replace,omitempty"`
	ReplaceAll bool              `yaml:"replace_all,omitempty" json:"replace_all,omitempty"`
	Patches    []JSONPatchOp     `yaml:"patches,omitempty" json:"patches,omitempty"`
	Set        map[string]string `yaml:"set,omitempty" json:"set,omitempty"`
	Remove     []string          `yaml:"remove,omitempty" json:"remove,omitempty"`
}

// DecodedValue returns the op value with its declared encoding applied.
func (b BodyOp) DecodedValue() (string, error) {
	if b.Encoding == BodyEncodingBase64 {
		raw, err := base64.StdEncoding.DecodeString(b.Value)
		if err != nil {
			return "", fmt.Errorf("body op %q: %w", b.Op, err)
		}
		return string(raw), nil
	}
	return b.Value, nil
}

// Transform is the payload of a modify action. Only set fields are
// applied; everything else passes through unchanged.
type Transform struct {
	URL           *string           `yaml:"url,omitempty" json:"url,omitempty"`
	Method        *string           `yaml:"method,omitempty" json:"method,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	RemoveHeaders []string          `yaml:"remove_headers,omitempty" json:"remove_headers,omitempty"`
	Query         map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	RemoveQuery   []string          `yaml:"remove_query,omitempty" json:"remove_query,omitempty"`
	Cookies       map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	RemoveCookies []string          `yaml:"remove_cookies,omitempty" json:"remove_cookies,omitempty"`
	Status        *int              `yaml:"status,omitempty" json:"status,omitempty"`
	Body          []BodyOp          `yaml:"body,omitempty" json:"body,omitempty"`
}

// MockResponse is the payload of a mock action. The response is
// synthesized entirely from it; the original request never leaves the
// browser.
type MockResponse struct {
	Status       int               `yaml:"status" json:"status"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body         string            `yaml:"body,omitempty" json:"body,omitempty"`
	BodyEncoding string            `yaml:"body_encoding,omitempty" json:"body_encoding,omitempty"`
}

// Rule maps a match to an action. Rules are immutable once registered;
// registration order breaks priority ties.
type Rule struct {
	ID        string        `yaml:"id,omitempty" json:"id,omitempty"`
	Name      string        `yaml:"name,omitempty" json:"name,omitempty"`
	Priority  int           `yaml:"priority,omitempty" json:"priority,omitempty"`
	Stage     Stage         `yaml:"stage,omitempty" json:"stage,omitempty"`
	Match     Match         `yaml:"match" json:"match"`
	Action    ActionKind    `yaml:"action" json:"action"`
	Transform *Transform    `yaml:"transform,omitempty" json:"transform,omitempty"`
	Mock      *MockResponse `yaml:"mock,omitempty" json:"mock,omitempty"`
}

// Config is an ordered ruleset plus session defaults.
type Config struct {
	Defaults struct {
		ProcessTimeoutMS int `yaml:"process_timeout_ms,omitempty" json:"process_timeout_ms,omitempty"`
	} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// EffectiveStage resolves the default stage for a rule.
func (r *Rule) EffectiveStage() Stage {
	if r.Stage == "" {
		return StageRequest
	}
	return r.Stage
}

// Validate rejects rules the engine cannot evaluate.
func (r *Rule) Validate() error {
	switch r.Action {
	case ActionPass, ActionBlock, ActionModify, ActionMock:
	default:
		return fmt.Errorf("rule %q: unknown action %q", r.ID, r.Action)
	}
	switch r.Stage {
	case "", StageRequest, StageResponse, StageBoth:
	default:
		return fmt.Errorf("rule %q: unknown stage %q", r.ID, r.Stage)
	}
	if r.Action == ActionModify && r.Transform == nil {
		return fmt.Errorf("rule %q: modify action requires a transform", r.ID)
	}
	if r.Action == ActionMock && r.Mock == nil {
		return fmt.Errorf("rule %q: mock action requires a mock payload", r.ID)
	}
	for _, set := range [][]Condition{r.Match.AllOf, r.Match.AnyOf, r.Match.NoneOf} {
		for _, c := range set {
			if err := c.validate(); err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
		}
	}
	if r.Transform != nil {
		for _, op := range r.Transform.Body {
			switch op.Op {
			case BodyOpSet, BodyOpAppend, BodyOpReplaceText, BodyOpJSONPatch, BodyOpForm:
			default:
				return fmt.Errorf("rule %q: unknown body op %q", r.ID, op.Op)
			}
		}
	}
	return nil
}

func (c Condition) validate() error {
	switch c.Type {
	case CondURL, CondMethod, CondHeader, CondQuery, CondCookie, CondText, CondJSON:
		return nil
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
}
