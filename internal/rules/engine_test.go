package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/pkg/rulespec"
)

func newTestEngine(t *testing.T, rs ...rulespec.Rule) *Engine {
	t.Helper()
	reg := NewRegistry()
	for _, r := range rs {
		_, err := reg.Register(r)
		require.NoError(t, err)
	}
	return New(reg)
}

func apiCtx() *EvalContext {
	return &EvalContext{
		URL:     "https://x/api/user?debug=1",
		Method:  "GET",
		Headers: map[string]string{"accept": "application/json"},
		Query:   map[string]string{"debug": "1"},
		Cookies: map[string]string{"sid": "abc"},
	}
}

func TestEvalMatchesURLGlob(t *testing.T) {
	e := newTestEngine(t, urlRule("*/api/user*", rulespec.ActionBlock))
	matched := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, matched, 1)
	assert.Equal(t, rulespec.ActionBlock, matched[0].Rule.Action)
}

func TestEvalIsDeterministic(t *testing.T) {
	e := newTestEngine(t,
		urlRule("*/api/*", rulespec.ActionModify),
		urlRule("*user*", rulespec.ActionModify),
	)
	first := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	second := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Rule.ID, second[i].Rule.ID)
	}
}

func TestEvalBlockBeatsModify(t *testing.T) {
	modify := urlRule("*/api/*", rulespec.ActionModify)
	modify.Priority = 100
	block := urlRule("*user*", rulespec.ActionBlock)

	e := newTestEngine(t, modify, block)
	matched := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, matched, 1)
	assert.Equal(t, rulespec.ActionBlock, matched[0].Rule.Action)
}

func TestEvalMockBeatsModifyAndLosesToBlock(t *testing.T) {
	mock := urlRule("*/api/*", rulespec.ActionMock)
	modify := urlRule("*user*", rulespec.ActionModify)
	e := newTestEngine(t, modify, mock)
	matched := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, matched, 1)
	assert.Equal(t, rulespec.ActionMock, matched[0].Rule.Action)

	block := urlRule("*x/api*", rulespec.ActionBlock)
	e = newTestEngine(t, mock, modify, block)
	matched = e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, matched, 1)
	assert.Equal(t, rulespec.ActionBlock, matched[0].Rule.Action)
}

func TestEvalModifyRulesCompose(t *testing.T) {
	first := urlRule("*/api/*", rulespec.ActionModify)
	first.ID = "first"
	second := urlRule("*user*", rulespec.ActionModify)
	second.ID = "second"
	prioritized := urlRule("*debug*", rulespec.ActionModify)
	prioritized.ID = "prioritized"
	prioritized.Priority = 10

	e := newTestEngine(t, first, second, prioritized)
	matched := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, matched, 3)
	// Priority first, then registration order.
	assert.Equal(t, "prioritized", matched[0].Rule.ID)
	assert.Equal(t, "first", matched[1].Rule.ID)
	assert.Equal(t, "second", matched[2].Rule.ID)
}

func TestEvalStageFilter(t *testing.T) {
	req := urlRule("*/api/*", rulespec.ActionModify)
	req.Stage = rulespec.StageRequest
	res := urlRule("*/api/*", rulespec.ActionMock)
	res.Stage = rulespec.StageResponse
	both := urlRule("*user*", rulespec.ActionModify)
	both.Stage = rulespec.StageBoth

	e := newTestEngine(t, req, res, both)

	reqMatched := e.EvalForStage(apiCtx(), rulespec.StageRequest)
	require.Len(t, reqMatched, 2)
	for _, m := range reqMatched {
		assert.Equal(t, rulespec.ActionModify, m.Rule.Action)
	}

	resMatched := e.EvalForStage(apiCtx(), rulespec.StageResponse)
	require.Len(t, resMatched, 1)
	assert.Equal(t, rulespec.ActionMock, resMatched[0].Rule.Action)
}

func TestEvalConditionKinds(t *testing.T) {
	ctx := apiCtx()
	ctx.Body = `{"user":{"role":"admin"},"note":"hello"}`

	cases := []struct {
		name string
		cond rulespec.Condition
		want bool
	}{
		{"url prefix", rulespec.Condition{Type: rulespec.CondURL, Mode: rulespec.URLModePrefix, Pattern: "https://x/"}, true},
		{"url exact miss", rulespec.Condition{Type: rulespec.CondURL, Mode: rulespec.URLModeExact, Pattern: "https://x/"}, false},
		{"url regex", rulespec.Condition{Type: rulespec.CondURL, Mode: rulespec.URLModeRegex, Pattern: `/api/\w+`}, true},
		{"method", rulespec.Condition{Type: rulespec.CondMethod, Values: []string{"get", "POST"}}, true},
		{"header equals", rulespec.Condition{Type: rulespec.CondHeader, Key: "Accept", Op: rulespec.OpEquals, Value: "application/json"}, true},
		{"header exists", rulespec.Condition{Type: rulespec.CondHeader, Key: "accept", Op: rulespec.OpExists}, true},
		{"header missing", rulespec.Condition{Type: rulespec.CondHeader, Key: "x-none", Op: rulespec.OpExists}, false},
		{"query contains", rulespec.Condition{Type: rulespec.CondQuery, Key: "debug", Op: rulespec.OpContains, Value: "1"}, true},
		{"cookie regex", rulespec.Condition{Type: rulespec.CondCookie, Key: "sid", Op: rulespec.OpRegex, Value: `^a\w+$`}, true},
		{"text contains", rulespec.Condition{Type: rulespec.CondText, Op: rulespec.OpContains, Value: "hello"}, true},
		{"json equals", rulespec.Condition{Type: rulespec.CondJSON, Path: "user.role", Op: rulespec.OpEquals, Value: "admin"}, true},
		{"json exists miss", rulespec.Condition{Type: rulespec.CondJSON, Path: "user.name", Op: rulespec.OpExists}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := rulespec.Rule{
				Match:  rulespec.Match{AllOf: []rulespec.Condition{tc.cond}},
				Action: rulespec.ActionBlock,
			}
			e := newTestEngine(t, rule)
			matched := e.EvalForStage(ctx, rulespec.StageRequest)
			assert.Equal(t, tc.want, len(matched) == 1)
		})
	}
}

func TestEvalNoneOf(t *testing.T) {
	rule := rulespec.Rule{
		Match: rulespec.Match{
			AllOf:  []rulespec.Condition{{Type: rulespec.CondURL, Pattern: "*/api/*"}},
			NoneOf: []rulespec.Condition{{Type: rulespec.CondMethod, Values: []string{"GET"}}},
		},
		Action: rulespec.ActionBlock,
	}
	e := newTestEngine(t, rule)
	assert.Empty(t, e.EvalForStage(apiCtx(), rulespec.StageRequest))

	post := apiCtx()
	post.Method = "POST"
	assert.Len(t, e.EvalForStage(post, rulespec.StageRequest), 1)
}

func TestEvalStats(t *testing.T) {
	rule := urlRule("*/api/*", rulespec.ActionBlock)
	rule.ID = "r1"
	e := newTestEngine(t, rule)

	e.EvalForStage(apiCtx(), rulespec.StageRequest)
	miss := apiCtx()
	miss.URL = "https://x/other"
	e.EvalForStage(miss, rulespec.StageRequest)

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.Matched)
	assert.EqualValues(t, 1, stats.ByRule["r1"])
}
