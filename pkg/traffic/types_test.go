package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("Content-Type", "application/json")

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))

	h.Del("Content-TYPE")
	assert.Empty(t, h.Get("content-type"))
}

func TestRequestCloneIsIndependent(t *testing.T) {
	req := NewRequest()
	req.URL = "https://x/api"
	req.Method = "POST"
	req.Headers.Set("x-a", "1")
	req.Query["q"] = "1"
	req.Cookies["sid"] = "abc"
	req.Body = []byte("orig")

	cp := req.Clone()
	require.Equal(t, req.URL, cp.URL)
	require.Equal(t, "1", cp.Headers.Get("x-a"))

	cp.Headers.Set("x-a", "2")
	cp.Query["q"] = "2"
	cp.Cookies["sid"] = "zzz"
	cp.Body[0] = 'X'

	assert.Equal(t, "1", req.Headers.Get("x-a"))
	assert.Equal(t, "1", req.Query["q"])
	assert.Equal(t, "abc", req.Cookies["sid"])
	assert.Equal(t, "orig", string(req.Body))
}

func TestResponseCloneIsIndependent(t *testing.T) {
	res := NewResponse()
	res.StatusCode = 404
	res.Headers.Set("x-b", "1")
	res.Body = []byte("nope")

	cp := res.Clone()
	cp.Headers.Set("x-b", "2")
	cp.Body[0] = 'X'

	assert.Equal(t, 404, cp.StatusCode)
	assert.Equal(t, "1", res.Headers.Get("x-b"))
	assert.Equal(t, "nope", string(res.Body))
}

func TestCloneNilReceivers(t *testing.T) {
	var req *Request
	var res *Response
	assert.Nil(t, req.Clone())
	assert.Nil(t, res.Clone())
}
