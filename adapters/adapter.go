package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/technoratimedia/pbs-technorati/errortypes"
	"github.com/technoratimedia/pbs-technorati/pbs"
	"golang.org/x/net/context/ctxhttp"
)

// Adapters connect the server to a demand partner. Their primary purpose is to produce bids
// in response to Auction requests.
type Adapter interface {
	// Name uniquely identifies this adapter. This must be identical to the bidder code used in
	// the ad units of an /auction request.
	Name() string
	// FamilyName identifies the space of cookies which this adapter accesses.
	FamilyName() string
	// CallBids asks the partner for bids on every slot of req. Results go to manager, followed by
	// manager.AdapterDone once the partner has answered. It returns false, and reports nothing,
	// when req holds no slots. ctx only bounds the outbound call.
	CallBids(ctx context.Context, req *pbs.BidderRequest, browsing *pbs.BrowsingContext, manager pbs.BidManager) bool
}

// HTTPAdapterConfig groups options which control how HTTP requests are made by adapters.
type HTTPAdapterConfig struct {
	// See IdleConnTimeout on https://golang.org/pkg/net/http/#Transport
	IdleConnTimeout time.Duration
	// See MaxIdleConns on https://golang.org/pkg/net/http/#Transport
	MaxConns int
	// See MaxIdleConnsPerHost on https://golang.org/pkg/net/http/#Transport
	MaxConnsPerHost int
	// Timeout bounds a single call. 0 leaves it to the caller's context.
	Timeout time.Duration
}

type HTTPAdapter struct {
	Transport *http.Transport
	Client    *http.Client
	Timeout   time.Duration
}

// DefaultHTTPAdapterConfig is an HTTPAdapterConfig that chooses sensible default values.
var DefaultHTTPAdapterConfig = &HTTPAdapterConfig{
	MaxConns:        50,
	MaxConnsPerHost: 10,
	IdleConnTimeout: 60 * time.Second,
}

// NewHTTPAdapter creates an HTTPAdapter which obeys the rules given by the config.
func NewHTTPAdapter(c *HTTPAdapterConfig) *HTTPAdapter {
	ts := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        c.MaxConns,
		MaxIdleConnsPerHost: c.MaxConnsPerHost,
		IdleConnTimeout:     c.IdleConnTimeout,
	}

	return &HTTPAdapter{
		Transport: ts,
		Client: &http.Client{
			Transport: ts,
		},
		Timeout: c.Timeout,
	}
}

// RequestOptions carries the per call knobs of a POST.
type RequestOptions struct {
	// WithCredentials forwards Cookies on the outbound request.
	WithCredentials bool
	Cookies         []*http.Cookie
}

// Post sends body to uri in the background and hands the outcome to done exactly once.
// A call that fails, or is answered with a non-2xx status, completes with an empty body
// and an error from the errortypes package when the failure can be classified.
func (a *HTTPAdapter) Post(ctx context.Context, uri string, body []byte, opts RequestOptions, done func(body string, err error)) {
	go func() {
		respBody, err := a.post(ctx, uri, body, opts)
		done(respBody, err)
	}()
}

func (a *HTTPAdapter) post(ctx context.Context, uri string, body []byte, opts RequestOptions) (string, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequest("POST", uri, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json;charset=utf-8")
	httpReq.Header.Set("Accept", "application/json")
	if opts.WithCredentials {
		for _, cookie := range opts.Cookies {
			httpReq.AddCookie(cookie)
		}
	}

	resp, err := ctxhttp.Do(ctx, a.Client, httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &errortypes.Timeout{Message: err.Error()}
		}
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", &errortypes.BadServerResponse{Message: fmt.Sprintf("Failed to read response body: %v", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &errortypes.BadServerResponse{Message: fmt.Sprintf("HTTP status %d; body: %s", resp.StatusCode, respBody)}
	}
	return string(respBody), nil
}
