package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

const regexCacheSize = 256

// EvalContext carries the normalized view of one intercepted exchange.
// Header, query and cookie keys are lowercased by the caller.
type EvalContext struct {
	URL          string
	Method       string
	ResourceType string
	Headers      map[string]string
	Query        map[string]string
	Cookies      map[string]string
	Body         string
}

// MatchedRule is one applicable rule in evaluation order.
type MatchedRule struct {
	Rule rulespec.Rule
}

// Engine evaluates the registry's ruleset against exchanges. Evaluation
// is deterministic: the same context and an unchanged ruleset always
// yield the same matched rules.
type Engine struct {
	reg     *Registry
	regexes *lru.Cache[string, *regexp.Regexp]

	statsMu sync.Mutex
	total   int64
	matched int64
	byRule  map[domain.RuleID]int64
}

// New creates an engine over a registry.
func New(reg *Registry) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Engine{
		reg:     reg,
		regexes: cache,
		byRule:  make(map[domain.RuleID]int64),
	}
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry { return e.reg }

// EvalForStage returns the ordered subsequence of rules applicable to
// the exchange at the given stage. Rules are ordered by priority, then
// registration order. Exclusive actions take precedence: a matching
// block rule wins over everything, a mock over modify and pass, and
// either short-circuits the result to a single rule. Matching modify
// rules all apply, in order.
func (e *Engine) EvalForStage(ctx *EvalContext, stage rulespec.Stage) []*MatchedRule {
	snapshot := e.reg.Snapshot()

	var matched []*MatchedRule
	order := make(map[string]int, len(snapshot))
	for i := range snapshot {
		r := &snapshot[i]
		order[r.ID] = i
		if !stageApplies(r.EffectiveStage(), stage) {
			continue
		}
		if e.matchRule(ctx, r.Match) {
			matched = append(matched, &MatchedRule{Rule: *r})
		}
	}

	e.recordStats(matched)
	if len(matched) == 0 {
		return nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].Rule, matched[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return order[a.ID] < order[b.ID]
	})

	// Exclusive action precedence: block > mock > modify > pass.
	for _, kind := range []rulespec.ActionKind{rulespec.ActionBlock, rulespec.ActionMock} {
		for _, m := range matched {
			if m.Rule.Action == kind {
				return []*MatchedRule{m}
			}
		}
	}
	var modifies []*MatchedRule
	for _, m := range matched {
		if m.Rule.Action == rulespec.ActionModify {
			modifies = append(modifies, m)
		}
	}
	if len(modifies) > 0 {
		return modifies
	}
	// Only pass rules matched; report the first for observability.
	return matched[:1]
}

// Stats returns cumulative evaluation counters.
func (e *Engine) Stats() domain.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	by := make(map[domain.RuleID]int64, len(e.byRule))
	for k, v := range e.byRule {
		by[k] = v
	}
	return domain.EngineStats{Total: e.total, Matched: e.matched, ByRule: by}
}

func (e *Engine) recordStats(matched []*MatchedRule) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.total++
	if len(matched) > 0 {
		e.matched++
	}
	for _, m := range matched {
		e.byRule[domain.RuleID(m.Rule.ID)]++
	}
}

func stageApplies(ruleStage, stage rulespec.Stage) bool {
	return ruleStage == rulespec.StageBoth || ruleStage == stage
}

func (e *Engine) matchRule(ctx *EvalContext, m rulespec.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && e.allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && e.anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && !e.anyOf(ctx, m.NoneOf)
	}
	return ok
}

func (e *Engine) allOf(ctx *EvalContext, cs []rulespec.Condition) bool {
	for i := range cs {
		if !e.cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func (e *Engine) anyOf(ctx *EvalContext, cs []rulespec.Condition) bool {
	for i := range cs {
		if e.cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func (e *Engine) cond(ctx *EvalContext, c rulespec.Condition) bool {
	switch c.Type {
	case rulespec.CondURL:
		switch c.Mode {
		case rulespec.URLModePrefix:
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case rulespec.URLModeRegex:
			return e.matchRegex(ctx.URL, c.Pattern)
		case rulespec.URLModeExact:
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case rulespec.CondMethod:
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case rulespec.CondHeader:
		return e.valueCond(ctx.Headers, c)
	case rulespec.CondQuery:
		return e.valueCond(ctx.Query, c)
	case rulespec.CondCookie:
		return e.valueCond(ctx.Cookies, c)
	case rulespec.CondText:
		if ctx.Body == "" {
			return false
		}
		return e.compare(ctx.Body, c)
	case rulespec.CondJSON:
		if ctx.Body == "" {
			return false
		}
		res := gjson.Get(ctx.Body, c.Path)
		if c.Op == rulespec.OpExists {
			return res.Exists()
		}
		if !res.Exists() {
			return false
		}
		return e.compare(res.String(), c)
	default:
		return false
	}
}

func (e *Engine) valueCond(m map[string]string, c rulespec.Condition) bool {
	v, present := m[strings.ToLower(c.Key)]
	if c.Op == rulespec.OpExists {
		return present
	}
	if !present {
		return false
	}
	return e.compare(v, c)
}

func (e *Engine) compare(v string, c rulespec.Condition) bool {
	switch c.Op {
	case rulespec.OpEquals:
		return v == c.Value
	case rulespec.OpContains:
		return strings.Contains(v, c.Value)
	case rulespec.OpRegex:
		return e.matchRegex(v, c.Value)
	default:
		return true
	}
}

func (e *Engine) matchRegex(s, pattern string) bool {
	re, ok := e.regexes.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false
		}
		e.regexes.Add(pattern, re)
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	return s == pattern
}
