package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/technoratimedia/pbs-technorati/adapters"
	"github.com/technoratimedia/pbs-technorati/cache"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/errortypes"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
	metricsConf "github.com/technoratimedia/pbs-technorati/pbsmetrics/config"
)

// mockAdapter answers from a goroutine, like a real adapter waiting on the network.
type mockAdapter struct {
	name    string
	respond func(req *pbs.BidderRequest, manager pbs.BidManager)
	calls   chan *pbs.BidderRequest
}

func newMockAdapter(name string, respond func(req *pbs.BidderRequest, manager pbs.BidManager)) *mockAdapter {
	return &mockAdapter{name: name, respond: respond, calls: make(chan *pbs.BidderRequest, 10)}
}

func (a *mockAdapter) Name() string       { return a.name }
func (a *mockAdapter) FamilyName() string { return a.name }

func (a *mockAdapter) CallBids(ctx context.Context, req *pbs.BidderRequest, browsing *pbs.BrowsingContext, manager pbs.BidManager) bool {
	a.calls <- req
	if len(req.Bids) == 0 {
		return false
	}
	go a.respond(req, manager)
	return true
}

type panicAdapter struct{}

func (a *panicAdapter) Name() string       { return "technorati" }
func (a *panicAdapter) FamilyName() string { return "technorati" }
func (a *panicAdapter) CallBids(ctx context.Context, req *pbs.BidderRequest, browsing *pbs.BrowsingContext, manager pbs.BidManager) bool {
	panic("panic!")
}

type unknownAccountCache struct {
	cache.DummyCache
}

func (c *unknownAccountCache) GetAccount(key string) (*cache.Account, error) {
	return nil, &cache.NotFound{Kind: "account", Key: key}
}

func testConfig(t *testing.T) *config.Configuration {
	v := viper.New()
	config.SetupViper(v, "")
	cfg, err := config.New(v)
	require.NoError(t, err)
	return cfg
}

func bidOnEverySlot(cpm float64) func(req *pbs.BidderRequest, manager pbs.BidManager) {
	return func(req *pbs.BidderRequest, manager pbs.BidManager) {
		for _, slot := range req.Bids {
			bid := pbs.NewBid(pbs.StatusGood, slot)
			bid.CPM = cpm
			bid.Ad = "<div></div>"
			manager.AddBidResponse(slot.PlacementCode, bid)
		}
		manager.AdapterDone(req.BidderCode)
	}
}

func noBidOnEverySlot(req *pbs.BidderRequest, manager pbs.BidManager) {
	for _, slot := range req.Bids {
		bid := pbs.NewBid(pbs.StatusNoBid, slot)
		bid.Reason = "no bid"
		manager.AddBidResponse(slot.PlacementCode, bid)
	}
	manager.AdapterDone(req.BidderCode)
}

const auctionBody = `{
	"account_id": "acct-1",
	"tid": "t-1",
	"timeout_millis": 1000,
	"url": "https://news.example.com/story",
	"ad_units": [
		{"code": "div-top", "sizes": [[728, 90]], "bids": [{"bidder": "technorati", "bid_id": "b1", "params": {"publisherId": "p", "placementId": "top"}}]},
		{"code": "div-side", "sizes": [{"w": 300, "h": 250}], "bids": [{"bidder": "technorati", "bid_id": "b2", "params": {"publisherId": "p", "placementId": "side"}}, {"bidder": "nosuchbidder", "bid_id": "b3"}]}
	]
}`

func runAuction(t *testing.T, handler func(http.ResponseWriter, *http.Request), body string) (*httptest.ResponseRecorder, pbs.PBSResponse) {
	req := httptest.NewRequest("POST", "/auction", strings.NewReader(body))
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/12.0 Safari/605.1.15")
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	var resp pbs.PBSResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp), recorder.Body.String())
	return recorder, resp
}

func auctionHandler(t *testing.T, dataCache cache.Cache, metrics pbsmetrics.MetricsEngine, exchanges map[string]adapters.Adapter) func(http.ResponseWriter, *http.Request) {
	validator, err := openrtb_ext.NewBidderParamsValidator("../static/bidder-params")
	require.NoError(t, err)
	handle := Auction(testConfig(t), metrics, dataCache, validator, exchanges)
	return func(w http.ResponseWriter, r *http.Request) {
		handle(w, r, nil)
	}
}

func findBidder(resp pbs.PBSResponse, code string) *pbs.BidderRequest {
	for _, bidder := range resp.BidderStatus {
		if bidder.BidderCode == code {
			return bidder
		}
	}
	return nil
}

func TestAuction(t *testing.T) {
	adapter := newMockAdapter("technorati", bidOnEverySlot(1.5))
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": adapter})

	recorder, resp := runAuction(t, handler, auctionBody)

	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "t-1", resp.TID)
	require.Len(t, resp.Bids, 2)
	assert.Empty(t, resp.NoBids)

	codes := []string{resp.Bids[0].AdUnitCode, resp.Bids[1].AdUnitCode}
	assert.ElementsMatch(t, []string{"div-top", "div-side"}, codes)

	technorati := findBidder(resp, "technorati")
	require.NotNil(t, technorati)
	assert.Equal(t, 2, technorati.NumBids)
	assert.False(t, technorati.NoBid)
	assert.Empty(t, technorati.Error)

	unsupported := findBidder(resp, "nosuchbidder")
	require.NotNil(t, unsupported)
	assert.Equal(t, "Unsupported bidder", unsupported.Error)

	sent := <-adapter.calls
	require.Len(t, sent.Bids, 2, "all slots of a bidder go out in one call")
	assert.Equal(t, "div-top", sent.Bids[0].PlacementCode)
}

func TestAuctionNoBids(t *testing.T) {
	adapter := newMockAdapter("technorati", noBidOnEverySlot)
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": adapter})

	_, resp := runAuction(t, handler, auctionBody)

	assert.Empty(t, resp.Bids)
	require.Len(t, resp.NoBids, 2)
	for _, bid := range resp.NoBids {
		assert.Equal(t, pbs.StatusNoBid, bid.StatusCode)
		assert.Equal(t, "no bid", bid.Reason)
	}
	technorati := findBidder(resp, "technorati")
	require.NotNil(t, technorati)
	assert.True(t, technorati.NoBid)
}

func TestAuctionTimeout(t *testing.T) {
	adapter := newMockAdapter("technorati", func(req *pbs.BidderRequest, manager pbs.BidManager) {})
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": adapter})

	start := time.Now()
	_, resp := runAuction(t, handler, strings.Replace(auctionBody, `"timeout_millis": 1000`, `"timeout_millis": 50`, 1))

	assert.True(t, time.Since(start) < 5*time.Second)
	technorati := findBidder(resp, "technorati")
	require.NotNil(t, technorati)
	assert.Equal(t, "Timed out", technorati.Error)
	assert.Empty(t, resp.Bids)
}

func TestAuctionSortBids(t *testing.T) {
	cpms := []float64{1, 3}
	adapter := newMockAdapter("technorati", func(req *pbs.BidderRequest, manager pbs.BidManager) {
		for i, slot := range req.Bids {
			bid := pbs.NewBid(pbs.StatusGood, slot)
			bid.CPM = cpms[i]
			manager.AddBidResponse(slot.PlacementCode, bid)
		}
		manager.AdapterDone(req.BidderCode)
	})
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": adapter})

	_, resp := runAuction(t, handler, strings.Replace(auctionBody, `"tid": "t-1",`, `"tid": "t-1", "sort_bids": 1,`, 1))

	require.Len(t, resp.Bids, 2)
	assert.Equal(t, 3.0, resp.Bids[0].CPM)
	assert.Equal(t, 1.0, resp.Bids[1].CPM)
}

func TestAuctionMintsTransactionID(t *testing.T) {
	adapter := newMockAdapter("technorati", noBidOnEverySlot)
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": adapter})

	_, resp := runAuction(t, handler, strings.Replace(auctionBody, `"tid": "t-1",`, "", 1))
	assert.Len(t, resp.TID, 36)
}

func TestAuctionBadRequests(t *testing.T) {
	testCases := []struct {
		description string
		dataCache   cache.Cache
		body        string
		status      string
	}{
		{
			description: "Malformed body",
			dataCache:   cache.NewDummyCache(),
			body:        `{"ad_units": [`,
			status:      "Error parsing request",
		},
		{
			description: "No ad units",
			dataCache:   cache.NewDummyCache(),
			body:        `{"account_id": "acct-1", "url": "https://news.example.com"}`,
			status:      "Error parsing request",
		},
		{
			description: "Unknown account",
			dataCache:   &unknownAccountCache{},
			body:        auctionBody,
			status:      "Unknown account id",
		},
	}

	for _, test := range testCases {
		metrics := &pbsmetrics.MetricsEngineMock{}
		metrics.On("RecordRequest", mock.Anything).Return()
		metrics.On("RecordImps", mock.Anything, mock.Anything).Return()
		metrics.On("RecordRequestTime", mock.Anything, mock.Anything).Return()

		adapter := newMockAdapter("technorati", noBidOnEverySlot)
		handler := auctionHandler(t, test.dataCache, metrics, map[string]adapters.Adapter{"technorati": adapter})
		_, resp := runAuction(t, handler, test.body)

		assert.True(t, strings.HasPrefix(resp.Status, test.status), "%s: got status %q", test.description, resp.Status)
		assert.Empty(t, resp.Bids, test.description)
		assert.Empty(t, adapter.calls, test.description)

		labels := metrics.Calls[0].Arguments.Get(0).(pbsmetrics.Labels)
		assert.Equal(t, pbsmetrics.RequestStatusBadInput, labels.RequestStatus, test.description)
		assert.Equal(t, pbsmetrics.BrowserSafari, labels.Browser, test.description)
	}
}

func TestAuctionRecordsRequestMetrics(t *testing.T) {
	metrics := &pbsmetrics.MetricsEngineMock{}
	metrics.On("RecordRequest", mock.Anything).Return()
	metrics.On("RecordImps", mock.Anything, 2).Return()
	metrics.On("RecordRequestTime", mock.Anything, mock.Anything).Return()

	adapter := newMockAdapter("technorati", noBidOnEverySlot)
	handler := auctionHandler(t, cache.NewDummyCache(), metrics, map[string]adapters.Adapter{"technorati": adapter})
	runAuction(t, handler, auctionBody)

	metrics.AssertExpectations(t)
	labels := metrics.Calls[0].Arguments.Get(0).(pbsmetrics.Labels)
	assert.Equal(t, pbsmetrics.RequestStatusOK, labels.RequestStatus)
	assert.Equal(t, pbsmetrics.DemandWeb, labels.Source)
	assert.Equal(t, "acct-1", labels.PubID)
	assert.Equal(t, pbsmetrics.CookieFlagNo, labels.CookieFlag)
}

func TestWriteAuctionError(t *testing.T) {
	recorder := httptest.NewRecorder()
	writeAuctionError(recorder, "some error message", nil)
	var resp pbs.PBSResponse
	json.Unmarshal(recorder.Body.Bytes(), &resp)

	if len(resp.Bids) != 0 {
		t.Error("Error responses should return no bids.")
	}
	if resp.Status != "some error message" {
		t.Errorf("The response status should be the error message. Got: %s", resp.Status)
	}

	if len(resp.BidderStatus) != 0 {
		t.Errorf("Error responses shouldn't have any BidderStatus elements. Got %d", len(resp.BidderStatus))
	}
}

func TestPanicRecovery(t *testing.T) {
	handler := auctionHandler(t, cache.NewDummyCache(), &metricsConf.DummyMetricsEngine{}, map[string]adapters.Adapter{"technorati": &panicAdapter{}})

	_, resp := runAuction(t, handler, auctionBody)

	technorati := findBidder(resp, "technorati")
	require.NotNil(t, technorati)
	assert.Equal(t, "panic!", technorati.Error)
	assert.False(t, technorati.NoBid)
}

func TestValidateParamsWarns(t *testing.T) {
	validator, err := openrtb_ext.NewBidderParamsValidator("../static/bidder-params")
	require.NoError(t, err)
	a := &auction{paramsValidator: validator}
	bidder := &pbs.BidderRequest{
		BidderCode: "technorati",
		Bids: []*pbs.BidRequest{
			{PlacementCode: "ok", Params: []byte(`{"placementId": "p"}`)},
			{PlacementCode: "bad", Params: []byte(`{"publisherId": "x"}`)},
		},
	}

	warnings := a.validateParams(bidder)
	require.Len(t, warnings, 1)
	assert.True(t, errortypes.IsWarning(warnings[0]))
	assert.Equal(t, errortypes.InvalidBidderParamsWarningCode, errortypes.ReadCode(warnings[0]))
	assert.Contains(t, warnings[0].Error(), "bad")
}
