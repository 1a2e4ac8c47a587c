package cdp

import (
	"encoding/json"
	"testing"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/traffic"
)

func TestBuildFetchExpression(t *testing.T) {
	req := traffic.NewRequest()
	req.URL = "https://x/api/user"
	req.Method = "POST"
	req.Headers.Set("Content-Type", "application/json")
	req.Body = []byte(`{"a":"quo\"te"}`)

	expr := BuildFetchExpression(req)
	assert.Contains(t, expr, `fetch("https://x/api/user"`)
	assert.Contains(t, expr, `method: "POST"`)
	assert.Contains(t, expr, `"content-type":"application/json"`)
	// The body rides along JSON-escaped, not raw.
	assert.Contains(t, expr, `body: "{\"a\":\"quo\\\"te\"}"`)
	assert.Contains(t, expr, "credentials: 'include'")
}

func TestBuildFetchExpressionDefaults(t *testing.T) {
	req := traffic.NewRequest()
	req.URL = "https://x/"

	expr := BuildFetchExpression(req)
	assert.Contains(t, expr, `method: "GET"`)
	assert.NotContains(t, expr, "body:")
}

func TestParseInjectedResponse(t *testing.T) {
	payload := `{"status":201,"headers":{"Content-Type":"application/json"},"body":"{\"id\":1}"}`
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	res, err := ParseInjectedResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	assert.Equal(t, "application/json", res.Headers.Get("content-type"))
	assert.Equal(t, `{"id":1}`, string(res.Body))
}

func TestParseInjectedResponseRejectsGarbage(t *testing.T) {
	_, err := ParseInjectedResponse(json.RawMessage(`42`))
	assert.Error(t, err)

	raw, _ := json.Marshal("not json at all")
	_, err = ParseInjectedResponse(raw)
	assert.Error(t, err)
}

func TestFromNetworkCookies(t *testing.T) {
	out := FromNetworkCookies([]network.Cookie{
		{Name: "sid", Value: "abc", Domain: ".x.test", Path: "/", Secure: true, HTTPOnly: true},
		{Name: "theme", Value: "dark"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, domain.Cookie{
		Name: "sid", Value: "abc", Domain: ".x.test", Path: "/", Secure: true, HTTPOnly: true,
	}, out[0])
	assert.Equal(t, "theme", out[1].Name)
}

func TestToSetCookieArgs(t *testing.T) {
	args := ToSetCookieArgs(domain.Cookie{
		Name:     "sid",
		Value:    "abc",
		Domain:   ".x.test",
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	})
	assert.Equal(t, "sid", args.Name)
	assert.Equal(t, "abc", args.Value)
	require.NotNil(t, args.Domain)
	assert.Equal(t, ".x.test", *args.Domain)
	require.NotNil(t, args.Secure)
	assert.True(t, *args.Secure)

	// Unset optionals stay unset instead of overriding CDP defaults.
	minimal := ToSetCookieArgs(domain.Cookie{Name: "a", Value: "1", URL: "https://x/"})
	require.NotNil(t, minimal.URL)
	assert.Equal(t, "https://x/", *minimal.URL)
	assert.Nil(t, minimal.Domain)
	assert.Nil(t, minimal.Path)
	assert.Nil(t, minimal.Secure)
	assert.Nil(t, minimal.HTTPOnly)
}
