package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/technoratimedia/pbs-technorati/adapters"
	"github.com/technoratimedia/pbs-technorati/cache"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/errortypes"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
)

const (
	statusUnsupportedBidder = "Unsupported bidder"
	statusTimedOut          = "Timed out"
)

func writeAuctionError(w http.ResponseWriter, s string, err error) {
	var resp pbs.PBSResponse
	if err != nil {
		resp.Status = fmt.Sprintf("%s: %v", s, err)
	} else {
		resp.Status = s
	}
	b, err := json.Marshal(&resp)
	if err != nil {
		glog.Errorf("Failed to marshal auction error JSON: %s", err)
	} else {
		w.Write(b)
	}
}

type auction struct {
	cfg             *config.Configuration
	metricsEngine   pbsmetrics.MetricsEngine
	dataCache       cache.Cache
	paramsValidator openrtb_ext.BidderParamValidator
	exchanges       map[string]adapters.Adapter
}

// Auction implements POST /auction. Every bidder with a registered adapter is called once
// with all of its slots, and the response is written when all of them are done or the
// request times out, whichever comes first.
func Auction(cfg *config.Configuration, metricsEngine pbsmetrics.MetricsEngine, dataCache cache.Cache, paramsValidator openrtb_ext.BidderParamValidator, exchanges map[string]adapters.Adapter) httprouter.Handle {
	a := &auction{
		cfg:             cfg,
		metricsEngine:   metricsEngine,
		dataCache:       dataCache,
		paramsValidator: paramsValidator,
		exchanges:       exchanges,
	}
	return a.auction
}

func (a *auction) auction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "application/json")
	labels := pbsmetrics.Labels{
		Source:        pbsmetrics.DemandUnknown,
		RType:         pbsmetrics.ReqTypeLegacy,
		PubID:         "",
		Browser:       pbsmetrics.BrowserOf(r.Header.Get("User-Agent")),
		CookieFlag:    pbsmetrics.CookieFlagUnknown,
		RequestStatus: pbsmetrics.RequestStatusOK,
	}
	req, err := pbs.ParsePBSRequest(r, a.cfg, a.dataCache)
	defer func() {
		a.metricsEngine.RecordRequest(labels)
		if req == nil {
			a.metricsEngine.RecordImps(labels, 0)
			return
		}
		a.metricsEngine.RecordImps(labels, len(req.AdUnits))
		a.metricsEngine.RecordRequestTime(labels, time.Since(req.Start))
	}()
	if err != nil {
		if glog.V(2) {
			glog.Infof("Failed to parse /auction request: %v", err)
		}
		writeAuctionError(w, "Error parsing request", err)
		labels.RequestStatus = pbsmetrics.RequestStatusBadInput
		return
	}
	labels.Source = pbsmetrics.DemandWeb
	labels.CookieFlag = pbsmetrics.CookieFlagOf(len(req.Browsing.Cookies))

	if _, err := a.dataCache.GetAccount(req.AccountID); err != nil {
		if glog.V(2) {
			glog.Infof("Invalid account id: %v", err)
		}
		writeAuctionError(w, "Unknown account id", fmt.Errorf("Unknown account"))
		labels.RequestStatus = pbsmetrics.RequestStatusBadInput
		return
	}
	labels.PubID = req.AccountID

	if req.Tid == "" {
		req.Tid = newTransactionID()
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutMillis)*time.Millisecond)
	defer cancel()

	var warnings []error
	collector := newAuctionCollector(req.Bidders)
	for _, bidder := range req.Bidders {
		ex, ok := a.exchanges[bidder.BidderCode]
		if !ok {
			bidder.Error = statusUnsupportedBidder
			warnings = append(warnings, &errortypes.Warning{
				Message:     fmt.Sprintf("%s: %s", statusUnsupportedBidder, bidder.BidderCode),
				WarningCode: errortypes.UnknownBidderWarningCode,
			})
			continue
		}
		warnings = append(warnings, a.validateParams(bidder)...)
		collector.dispatched(bidder.BidderCode)
		if !a.callSafely(ctx, ex, bidder, req.Browsing, collector) {
			collector.AdapterDone(bidder.BidderCode)
		}
	}
	collector.wait(ctx)

	for _, warning := range errortypes.WarningOnly(warnings) {
		glog.Warningf("/auction for account %s: %v", req.AccountID, warning)
	}

	resp := pbs.PBSResponse{
		Status:       "OK",
		TID:          req.Tid,
		BidderStatus: req.Bidders,
	}
	resp.Bids, resp.NoBids = collector.results()
	if req.SortBids == 1 {
		sort.Sort(resp.Bids)
	}

	if glog.V(2) {
		glog.Infof("Request for %d ad units on url %s by account %s got %d bids", len(req.AdUnits), req.Url, req.AccountID, len(resp.Bids))
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		glog.Errorf("Failed to write /auction response: %v", err)
		labels.RequestStatus = pbsmetrics.RequestStatusErr
	}
}

// validateParams only warns. Slots with invalid params are still sent to the bidder.
func (a *auction) validateParams(bidder *pbs.BidderRequest) []error {
	if a.paramsValidator == nil {
		return nil
	}
	name, ok := openrtb_ext.GetBidderName(bidder.BidderCode)
	if !ok {
		return nil
	}
	var warnings []error
	for _, bid := range bidder.Bids {
		if err := a.paramsValidator.Validate(name, bid.Params); err != nil {
			warnings = append(warnings, &errortypes.Warning{
				Message:     fmt.Sprintf("invalid %s params for ad unit %s: %v", name, bid.PlacementCode, err),
				WarningCode: errortypes.InvalidBidderParamsWarningCode,
			})
		}
	}
	return warnings
}

// callSafely reports whether the adapter dispatched a request. A panicking adapter counts as not dispatched.
func (a *auction) callSafely(ctx context.Context, ex adapters.Adapter, bidder *pbs.BidderRequest, browsing *pbs.BrowsingContext, manager pbs.BidManager) (dispatched bool) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("Legacy auction recovered panic from Bidder %s: %v. Stack trace is: %v", bidder.BidderCode, r, string(debug.Stack()))
			bidder.Error = fmt.Sprintf("%v", r)
			dispatched = false
		}
	}()
	return ex.CallBids(ctx, bidder, browsing, manager)
}

func newTransactionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		glog.Errorf("Failed to generate a transaction id: %v", err)
		return ""
	}
	return id.String()
}

// auctionCollector gathers the results of every adapter called for one /auction request.
// Results which arrive after the response has been assembled are dropped.
type auctionCollector struct {
	mu      sync.Mutex
	start   time.Time
	bidders map[string]*pbs.BidderRequest
	pending map[string]bool
	closed  bool
	bids    pbs.BidResults
	noBids  []*pbs.BidResult
	done    chan string
}

func newAuctionCollector(bidders []*pbs.BidderRequest) *auctionCollector {
	c := &auctionCollector{
		start:   time.Now(),
		bidders: make(map[string]*pbs.BidderRequest, len(bidders)),
		pending: make(map[string]bool, len(bidders)),
		done:    make(chan string, len(bidders)),
	}
	for _, bidder := range bidders {
		c.bidders[bidder.BidderCode] = bidder
	}
	return c
}

func (c *auctionCollector) dispatched(bidderCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[bidderCode] = true
}

func (c *auctionCollector) AddBidResponse(placementCode string, bid *pbs.BidResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	bid.ResponseTime = int(time.Since(c.start) / time.Millisecond)
	if bid.StatusCode != pbs.StatusGood {
		c.noBids = append(c.noBids, bid)
		return
	}
	c.bids = append(c.bids, bid)
	if bidder, ok := c.bidders[bid.BidderCode]; ok {
		bidder.NumBids++
	}
}

func (c *auctionCollector) AdapterDone(bidderCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.pending[bidderCode] {
		return
	}
	delete(c.pending, bidderCode)
	if bidder, ok := c.bidders[bidderCode]; ok {
		bidder.ResponseTime = int(time.Since(c.start) / time.Millisecond)
		bidder.NoBid = bidder.NumBids == 0 && bidder.Error == ""
	}
	c.done <- bidderCode
}

// wait blocks until every dispatched adapter is done or ctx expires. Bidders still pending
// at that point are marked as timed out.
func (c *auctionCollector) wait(ctx context.Context) {
	c.mu.Lock()
	remaining := len(c.pending) + len(c.done)
	c.mu.Unlock()

	for ; remaining > 0; remaining-- {
		select {
		case <-c.done:
		case <-ctx.Done():
			c.close()
			return
		}
	}
	c.close()
}

func (c *auctionCollector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for bidderCode := range c.pending {
		if bidder, ok := c.bidders[bidderCode]; ok {
			bidder.Error = statusTimedOut
			bidder.ResponseTime = int(time.Since(c.start) / time.Millisecond)
		}
	}
}

func (c *auctionCollector) results() (pbs.BidResults, []*pbs.BidResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bids, c.noBids
}
