package rewrite

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestRequestMutationCarriesFields(t *testing.T) {
	rw := New(nil)
	req := traffic.NewRequest()
	req.Body = []byte("hello")

	mut, err := rw.RequestMutation(&rulespec.Transform{
		URL:           strPtr("https://x/new"),
		Method:        strPtr("POST"),
		Headers:       map[string]string{"x-a": "1"},
		RemoveHeaders: []string{"x-b"},
		Query:         map[string]string{"q": "2"},
		Cookies:       map[string]string{"sid": "z"},
		Body:          []rulespec.BodyOp{{Op: rulespec.BodyOpAppend, Value: " world"}},
	}, req)
	require.NoError(t, err)
	assert.Equal(t, "https://x/new", *mut.URL)
	assert.Equal(t, "POST", *mut.Method)
	assert.Equal(t, "1", mut.Headers["x-a"])
	assert.Equal(t, []string{"x-b"}, mut.RemoveHeaders)
	require.NotNil(t, mut.Body)
	assert.Equal(t, "hello world", *mut.Body)
}

func TestRequestMutationRejectsStatus(t *testing.T) {
	rw := New(nil)
	_, err := rw.RequestMutation(&rulespec.Transform{Status: intPtr(204)}, traffic.NewRequest())
	assert.ErrorIs(t, err, domain.ErrInvalidTransformation)
}

func TestResponseMutationRejectsRequestFields(t *testing.T) {
	rw := New(nil)
	for name, tr := range map[string]*rulespec.Transform{
		"url":     {URL: strPtr("https://x/")},
		"method":  {Method: strPtr("POST")},
		"query":   {Query: map[string]string{"q": "1"}},
		"cookies": {RemoveCookies: []string{"sid"}},
	} {
		_, err := rw.ResponseMutation(tr, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransformation, name)
	}
}

func TestResponseMutationStatusHeadersBody(t *testing.T) {
	rw := New(nil)
	mut, err := rw.ResponseMutation(&rulespec.Transform{
		Status:  intPtr(418),
		Headers: map[string]string{"x-served-by": "mockery"},
		Body: []rulespec.BodyOp{
			{Op: rulespec.BodyOpReplaceText, Search: "cat", Replace: "dog", ReplaceAll: true},
		},
	}, "cat and cat")
	require.NoError(t, err)
	assert.Equal(t, 418, *mut.StatusCode)
	require.NotNil(t, mut.Body)
	assert.Equal(t, "dog and dog", *mut.Body)
}

func TestBodyOpsRunInOrder(t *testing.T) {
	rw := New(nil)
	out, changed, err := rw.applyBodyOps("ignored", []rulespec.BodyOp{
		{Op: rulespec.BodyOpSet, Value: "abc"},
		{Op: rulespec.BodyOpAppend, Value: "ZGVm", Encoding: rulespec.BodyEncodingBase64}, // "def"
		{Op: rulespec.BodyOpReplaceText, Search: "cd", Replace: "--"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "ab--ef", out)
}

func TestBodyOpsNoChangeReported(t *testing.T) {
	rw := New(nil)
	_, changed, err := rw.applyBodyOps("same", []rulespec.BodyOp{
		{Op: rulespec.BodyOpSet, Value: "same"},
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFormBodyOp(t *testing.T) {
	rw := New(nil)
	out, changed, err := rw.applyBodyOps("user=a&tmp=1&keep=2", []rulespec.BodyOp{
		{Op: rulespec.BodyOpForm, Set: map[string]string{"user": "b", "extra": "3"}, Remove: []string{"tmp"}},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	form, err := url.ParseQuery(out)
	require.NoError(t, err)
	assert.Equal(t, "b", form.Get("user"))
	assert.Equal(t, "2", form.Get("keep"))
	assert.Equal(t, "3", form.Get("extra"))
	assert.False(t, form.Has("tmp"))
}

func TestFormBodyOpRejectsUnparsable(t *testing.T) {
	rw := New(nil)
	_, _, err := rw.applyBodyOps("a=%zz", []rulespec.BodyOp{
		{Op: rulespec.BodyOpForm, Set: map[string]string{"a": "1"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransformation)
}

func TestJSONPatchOps(t *testing.T) {
	rw := New(nil)
	out, _, err := rw.applyBodyOps(`{"user":{"name":"a","tmp":1}}`, []rulespec.BodyOp{
		{Op: rulespec.BodyOpJSONPatch, Patches: []rulespec.JSONPatchOp{
			{Op: "replace", Path: "/user/name", Value: "b"},
			{Op: "add", Path: "/user/role", Value: "admin"},
			{Op: "remove", Path: "/user/tmp"},
		}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"name":"b","role":"admin"}}`, out)
}

func TestJSONPatchUnknownOpFails(t *testing.T) {
	rw := New(nil)
	_, _, err := rw.applyBodyOps(`{}`, []rulespec.BodyOp{
		{Op: rulespec.BodyOpJSONPatch, Patches: []rulespec.JSONPatchOp{{Op: "move", Path: "/a"}}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransformation)
}

func TestBuildMock(t *testing.T) {
	rw := New(nil)
	res, err := rw.BuildMock(&rulespec.MockResponse{
		Status:  201,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"id":1}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	assert.Equal(t, "application/json", res.Headers.Get("content-type"))
	assert.Equal(t, `{"id":1}`, string(res.Body))
}

func TestBuildMockBase64Body(t *testing.T) {
	rw := New(nil)
	res, err := rw.BuildMock(&rulespec.MockResponse{
		Status:       200,
		Body:         "aGVsbG8=",
		BodyEncoding: rulespec.BodyEncodingBase64,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Body))

	_, err = rw.BuildMock(&rulespec.MockResponse{Body: "%%%", BodyEncoding: rulespec.BodyEncodingBase64})
	assert.ErrorIs(t, err, domain.ErrInvalidTransformation)
}

func TestRequestMutationMergeLaterWins(t *testing.T) {
	base := &RequestMutation{
		Headers: map[string]string{"x-a": "1"},
		URL:     strPtr("https://x/first"),
	}
	base.Merge(&RequestMutation{
		Headers:       map[string]string{"x-a": "2", "x-b": "3"},
		URL:           strPtr("https://x/second"),
		RemoveHeaders: []string{"x-c"},
		Body:          strPtr("late"),
	})
	assert.Equal(t, "https://x/second", *base.URL)
	assert.Equal(t, "2", base.Headers["x-a"])
	assert.Equal(t, "3", base.Headers["x-b"])
	assert.Equal(t, []string{"x-c"}, base.RemoveHeaders)
	assert.Equal(t, "late", *base.Body)
	assert.False(t, base.Empty())
}

func TestResponseMutationMerge(t *testing.T) {
	base := &ResponseMutation{}
	assert.True(t, base.Empty())
	base.Merge(&ResponseMutation{StatusCode: intPtr(503)})
	base.Merge(&ResponseMutation{StatusCode: intPtr(200), Headers: map[string]string{"x": "y"}})
	assert.Equal(t, 200, *base.StatusCode)
	assert.Equal(t, "y", base.Headers["x"])
	assert.False(t, base.Empty())
}
