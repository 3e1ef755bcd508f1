package adapters

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technoratimedia/pbs-technorati/errortypes"
)

type postResult struct {
	body string
	err  error
}

func postAndWait(a *HTTPAdapter, ctx context.Context, uri string, opts RequestOptions) postResult {
	ch := make(chan postResult, 1)
	a.Post(ctx, uri, []byte(`{"id":1}`), opts, func(body string, err error) {
		ch <- postResult{body: body, err: err}
	})
	return <-ch
}

func TestPostSuccess(t *testing.T) {
	var gotBody, gotContentType, gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := ioutil.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
		if c, err := r.Cookie("uid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(`{"seatbid":[]}`))
	}))
	defer server.Close()

	result := postAndWait(NewHTTPAdapter(DefaultHTTPAdapterConfig), context.Background(), server.URL, RequestOptions{
		WithCredentials: true,
		Cookies:         []*http.Cookie{{Name: "uid", Value: "abc"}},
	})

	require.NoError(t, result.err)
	assert.Equal(t, `{"seatbid":[]}`, result.body)
	assert.Equal(t, `{"id":1}`, gotBody)
	assert.Equal(t, "application/json;charset=utf-8", gotContentType)
	assert.Equal(t, "abc", gotCookie)
}

func TestPostWithoutCredentials(t *testing.T) {
	cookieSent := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie("uid")
		cookieSent = err == nil
	}))
	defer server.Close()

	result := postAndWait(NewHTTPAdapter(DefaultHTTPAdapterConfig), context.Background(), server.URL, RequestOptions{
		Cookies: []*http.Cookie{{Name: "uid", Value: "abc"}},
	})

	assert.NoError(t, result.err)
	assert.Equal(t, "", result.body)
	assert.False(t, cookieSent)
}

func TestPostBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}))
	defer server.Close()

	result := postAndWait(NewHTTPAdapter(DefaultHTTPAdapterConfig), context.Background(), server.URL, RequestOptions{})

	assert.Equal(t, "", result.body)
	assert.IsType(t, &errortypes.BadServerResponse{}, result.err)
	assert.Equal(t, errortypes.BadServerResponseErrorCode, errortypes.ReadCode(result.err))
}

func TestPostTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter := NewHTTPAdapter(&HTTPAdapterConfig{
		MaxConns:        1,
		MaxConnsPerHost: 1,
		Timeout:         20 * time.Millisecond,
	})
	result := postAndWait(adapter, context.Background(), server.URL, RequestOptions{})

	assert.Equal(t, "", result.body)
	assert.IsType(t, &errortypes.Timeout{}, result.err)
}

func TestPostUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	uri := server.URL
	server.Close()

	result := postAndWait(NewHTTPAdapter(DefaultHTTPAdapterConfig), context.Background(), uri, RequestOptions{})

	assert.Equal(t, "", result.body)
	assert.Error(t, result.err)
}
