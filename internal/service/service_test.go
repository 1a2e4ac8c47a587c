package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

func testConfig() domain.SessionConfig {
	return domain.SessionConfig{DevToolsURL: "http://127.0.0.1:9222"}
}

func blockRule(pattern string) rulespec.Rule {
	return rulespec.Rule{
		Match:  rulespec.Match{AllOf: []rulespec.Condition{{Type: rulespec.CondURL, Pattern: pattern}}},
		Action: rulespec.ActionBlock,
	}
}

func TestStartSessionRequiresEndpoint(t *testing.T) {
	svc := New(nil)
	_, err := svc.StartSession(domain.SessionConfig{})
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	svc := New(nil)
	sid, err := svc.StartSession(testConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, sid)

	require.NoError(t, svc.StopSession(sid))
	assert.ErrorIs(t, svc.StopSession(sid), domain.ErrSessionNotFound)
}

func TestUnknownSessionIsRejectedEverywhere(t *testing.T) {
	svc := New(nil)
	const id = domain.SessionID("nope")

	_, err := svc.RegisterRule(id, blockRule("*"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.UnregisterRule(id, "r1"), domain.ErrSessionNotFound)
	_, err = svc.ListRules(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.GetRuleStats(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.SubscribeEvents(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.LoadRules(id, &rulespec.Config{}), domain.ErrSessionNotFound)

	ctx := context.Background()
	_, err = svc.GetCookies(ctx, id, "", nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.AddCookies(ctx, id, "", nil), domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.RemoveCookies(ctx, id, "", "sid", "", ""), domain.ErrSessionNotFound)
	_, err = svc.InjectFetch(ctx, id, "", traffic.NewRequest())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCookieOpsRequireAttachedTarget(t *testing.T) {
	svc := New(nil)
	sid, err := svc.StartSession(testConfig())
	require.NoError(t, err)
	defer func() { _ = svc.StopSession(sid) }()

	ctx := context.Background()
	_, err = svc.GetCookies(ctx, sid, "", nil)
	assert.ErrorContains(t, err, "no targets attached")
	_, err = svc.InjectFetch(ctx, sid, "", traffic.NewRequest())
	assert.ErrorContains(t, err, "no targets attached")
}

func TestRuleManagementThroughService(t *testing.T) {
	svc := New(nil)
	sid, err := svc.StartSession(testConfig())
	require.NoError(t, err)
	defer func() { _ = svc.StopSession(sid) }()

	rid, err := svc.RegisterRule(sid, blockRule("*/track/*"))
	require.NoError(t, err)

	_, err = svc.RegisterRule(sid, blockRule("*/track/*"))
	assert.ErrorIs(t, err, domain.ErrDuplicateRule)

	listed, err := svc.ListRules(sid)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, string(rid), listed[0].ID)

	require.NoError(t, svc.UnregisterRule(sid, rid))
	assert.ErrorIs(t, svc.UnregisterRule(sid, rid), domain.ErrRuleNotFound)
}

func TestLoadRulesReplacesRuleset(t *testing.T) {
	svc := New(nil)
	sid, err := svc.StartSession(testConfig())
	require.NoError(t, err)
	defer func() { _ = svc.StopSession(sid) }()

	_, err = svc.RegisterRule(sid, blockRule("*/old/*"))
	require.NoError(t, err)

	require.NoError(t, svc.LoadRules(sid, &rulespec.Config{Rules: []rulespec.Rule{
		blockRule("*/one/*"),
		blockRule("*/two/*"),
	}}))

	listed, err := svc.ListRules(sid)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "*/one/*", listed[0].Match.AllOf[0].Pattern)

	stats, err := svc.GetRuleStats(sid)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestSubscribeEventsReturnsStream(t *testing.T) {
	svc := New(nil)
	sid, err := svc.StartSession(testConfig())
	require.NoError(t, err)
	defer func() { _ = svc.StopSession(sid) }()

	events, err := svc.SubscribeEvents(sid)
	require.NoError(t, err)
	assert.NotNil(t, events)
}
