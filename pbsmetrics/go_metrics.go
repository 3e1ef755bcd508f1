package pbsmetrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/rcrowley/go-metrics"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
)

// Metrics is the go-metrics implementation of the MetricsEngine interface.
type Metrics struct {
	MetricsRegistry            metrics.Registry
	ConnectionCounter          metrics.Counter
	ConnectionAcceptErrorMeter metrics.Meter
	ConnectionCloseErrorMeter  metrics.Meter
	ImpMeter                   metrics.Meter
	NoCookieMeter              metrics.Meter
	SafariRequestMeter         metrics.Meter
	SafariNoCookieMeter        metrics.Meter
	RequestTimer               metrics.Timer
	RequestStatuses            map[RequestType]map[RequestStatus]metrics.Meter

	AdapterMetrics map[openrtb_ext.BidderName]*AdapterMetrics
	// Don't export accountMetrics because we need helper functions here to insure its properly populated dynamically
	accountMetrics        map[string]*accountMetrics
	accountMetricsRWMutex sync.RWMutex

	exchanges []openrtb_ext.BidderName
}

// AdapterMetrics houses the metrics for a particular adapter
type AdapterMetrics struct {
	NoCookieMeter     metrics.Meter
	ErrorMeters       map[AdapterError]metrics.Meter
	NoBidMeter        metrics.Meter
	GotBidsMeter      metrics.Meter
	RequestTimer      metrics.Timer
	PriceHistogram    metrics.Histogram
	BidsReceivedMeter metrics.Meter
	AdmMeter          metrics.Meter
	NurlMeter         metrics.Meter
}

type accountMetrics struct {
	requestMeter metrics.Meter
	// store account by adapter metrics. Type is map[BidderRequest.BidderCode]
	adapterMetrics map[openrtb_ext.BidderName]*AdapterMetrics
}

// NewBlankMetrics creates a new Metrics object with all blank metrics object. This may also be useful for
// testing routines to ensure that no metrics are written anywhere.
func NewBlankMetrics(registry metrics.Registry, exchanges []openrtb_ext.BidderName) *Metrics {
	blankMeter := &metrics.NilMeter{}
	newMetrics := &Metrics{
		MetricsRegistry:            registry,
		RequestStatuses:            make(map[RequestType]map[RequestStatus]metrics.Meter),
		ConnectionCounter:          metrics.NilCounter{},
		ConnectionAcceptErrorMeter: blankMeter,
		ConnectionCloseErrorMeter:  blankMeter,
		ImpMeter:                   blankMeter,
		NoCookieMeter:              blankMeter,
		SafariRequestMeter:         blankMeter,
		SafariNoCookieMeter:        blankMeter,
		RequestTimer:               &metrics.NilTimer{},

		AdapterMetrics: make(map[openrtb_ext.BidderName]*AdapterMetrics, len(exchanges)),
		accountMetrics: make(map[string]*accountMetrics),

		exchanges: exchanges,
	}
	for _, a := range exchanges {
		newMetrics.AdapterMetrics[a] = makeBlankAdapterMetrics()
	}

	for _, t := range RequestTypes() {
		newMetrics.RequestStatuses[t] = make(map[RequestStatus]metrics.Meter)
		for _, s := range RequestStatuses() {
			newMetrics.RequestStatuses[t][s] = blankMeter
		}
	}

	return newMetrics
}

// NewMetrics creates a new Metrics object with needed metrics defined.
func NewMetrics(registry metrics.Registry, exchanges []openrtb_ext.BidderName) *Metrics {
	newMetrics := NewBlankMetrics(registry, exchanges)
	newMetrics.ConnectionCounter = metrics.GetOrRegisterCounter("active_connections", registry)
	newMetrics.ConnectionAcceptErrorMeter = metrics.GetOrRegisterMeter("connection_accept_errors", registry)
	newMetrics.ConnectionCloseErrorMeter = metrics.GetOrRegisterMeter("connection_close_errors", registry)
	newMetrics.ImpMeter = metrics.GetOrRegisterMeter("imps_requested", registry)
	newMetrics.SafariRequestMeter = metrics.GetOrRegisterMeter("safari_requests", registry)
	newMetrics.NoCookieMeter = metrics.GetOrRegisterMeter("no_cookie_requests", registry)
	newMetrics.SafariNoCookieMeter = metrics.GetOrRegisterMeter("safari_no_cookie_requests", registry)
	newMetrics.RequestTimer = metrics.GetOrRegisterTimer("request_time", registry)
	for _, a := range exchanges {
		registerAdapterMetrics(registry, "adapter", string(a), newMetrics.AdapterMetrics[a])
	}
	for typ, statusMap := range newMetrics.RequestStatuses {
		for stat := range statusMap {
			statusMap[stat] = metrics.GetOrRegisterMeter("requests."+string(stat)+"."+string(typ), registry)
		}
	}
	return newMetrics
}

// Part of setting up blank metrics, the adapter metrics.
func makeBlankAdapterMetrics() *AdapterMetrics {
	blankMeter := &metrics.NilMeter{}
	newAdapter := &AdapterMetrics{
		NoCookieMeter:     blankMeter,
		ErrorMeters:       make(map[AdapterError]metrics.Meter),
		NoBidMeter:        blankMeter,
		GotBidsMeter:      blankMeter,
		RequestTimer:      &metrics.NilTimer{},
		PriceHistogram:    &metrics.NilHistogram{},
		BidsReceivedMeter: blankMeter,
		AdmMeter:          blankMeter,
		NurlMeter:         blankMeter,
	}
	for _, err := range AdapterErrors() {
		newAdapter.ErrorMeters[err] = blankMeter
	}
	return newAdapter
}

func registerAdapterMetrics(registry metrics.Registry, adapterOrAccount string, exchange string, am *AdapterMetrics) {
	prefix := adapterOrAccount + "." + exchange
	am.NoCookieMeter = metrics.GetOrRegisterMeter(prefix+".no_cookie_requests", registry)
	am.GotBidsMeter = metrics.GetOrRegisterMeter(prefix+".requests.gotbids", registry)
	am.NoBidMeter = metrics.GetOrRegisterMeter(prefix+".requests.nobid", registry)
	for _, err := range AdapterErrors() {
		am.ErrorMeters[err] = metrics.GetOrRegisterMeter(prefix+".requests."+string(err), registry)
	}
	am.RequestTimer = metrics.GetOrRegisterTimer(prefix+".request_time", registry)
	am.PriceHistogram = metrics.GetOrRegisterHistogram(prefix+".prices", registry, metrics.NewExpDecaySample(1028, 0.015))
	am.BidsReceivedMeter = metrics.GetOrRegisterMeter(prefix+".bids_received", registry)
	am.AdmMeter = metrics.GetOrRegisterMeter(prefix+".adm_bids_received", registry)
	am.NurlMeter = metrics.GetOrRegisterMeter(prefix+".nurl_bids_received", registry)
}

// getAccountMetrics gets or registers the account metrics for account "id".
func (me *Metrics) getAccountMetrics(id string) *accountMetrics {
	me.accountMetricsRWMutex.RLock()
	am, ok := me.accountMetrics[id]
	me.accountMetricsRWMutex.RUnlock()

	if ok {
		return am
	}

	me.accountMetricsRWMutex.Lock()
	defer me.accountMetricsRWMutex.Unlock()

	am, ok = me.accountMetrics[id]
	if ok {
		return am
	}
	am = &accountMetrics{}
	am.requestMeter = metrics.GetOrRegisterMeter(fmt.Sprintf("account.%s.requests", id), me.MetricsRegistry)
	am.adapterMetrics = make(map[openrtb_ext.BidderName]*AdapterMetrics, len(me.exchanges))
	for _, a := range me.exchanges {
		am.adapterMetrics[a] = makeBlankAdapterMetrics()
		registerAdapterMetrics(me.MetricsRegistry, fmt.Sprintf("account.%s", id), string(a), am.adapterMetrics[a])
	}

	me.accountMetrics[id] = am

	return am
}

// RecordRequest implements a part of the MetricsEngine interface
func (me *Metrics) RecordRequest(labels Labels) {
	if statuses, ok := me.RequestStatuses[labels.RType]; ok {
		if meter, ok := statuses[labels.RequestStatus]; ok {
			meter.Mark(1)
		}
	}
	if labels.Browser == BrowserSafari {
		me.SafariRequestMeter.Mark(1)
		if labels.CookieFlag == CookieFlagNo {
			me.SafariNoCookieMeter.Mark(1)
		}
	}
	if labels.CookieFlag == CookieFlagNo {
		me.NoCookieMeter.Mark(1)
	}

	if labels.PubID != "" {
		me.getAccountMetrics(labels.PubID).requestMeter.Mark(1)
	}
}

func (me *Metrics) RecordImps(labels Labels, numImps int) {
	me.ImpMeter.Mark(int64(numImps))
}

func (me *Metrics) RecordConnectionAccept(success bool) {
	if success {
		me.ConnectionCounter.Inc(1)
	} else {
		me.ConnectionAcceptErrorMeter.Mark(1)
	}
}

func (me *Metrics) RecordConnectionClose(success bool) {
	if success {
		me.ConnectionCounter.Dec(1)
	} else {
		me.ConnectionCloseErrorMeter.Mark(1)
	}
}

// RecordRequestTime implements a part of the MetricsEngine interface. The calling code is responsible
// for determining the call duration.
func (me *Metrics) RecordRequestTime(labels Labels, length time.Duration) {
	// Only record times for successful requests, as we don't have labels to screen out bad requests.
	if labels.RequestStatus == RequestStatusOK {
		me.RequestTimer.Update(length)
	}
}

// adapterMetrics returns the adapter wide metrics and the account-adapter metrics for labels.
func (me *Metrics) adapterMetrics(labels AdapterLabels, metricName string) (*AdapterMetrics, *AdapterMetrics) {
	am, ok := me.AdapterMetrics[labels.Adapter]
	if !ok {
		glog.Errorf("Trying to run adapter %s metrics on %s: adapter metrics not found", metricName, string(labels.Adapter))
		return nil, nil
	}
	if labels.PubID == "" {
		return am, nil
	}
	return am, me.getAccountMetrics(labels.PubID).adapterMetrics[labels.Adapter]
}

// RecordAdapterRequest implements a part of the MetricsEngine interface
func (me *Metrics) RecordAdapterRequest(labels AdapterLabels) {
	am, aam := me.adapterMetrics(labels, "request")
	if am == nil {
		return
	}
	for _, m := range []*AdapterMetrics{am, aam} {
		if m == nil {
			continue
		}
		switch labels.AdapterBids {
		case AdapterBidNone:
			m.NoBidMeter.Mark(1)
		case AdapterBidPresent:
			m.GotBidsMeter.Mark(1)
		}
		for err := range labels.AdapterErrors {
			if meter, ok := m.ErrorMeters[err]; ok {
				meter.Mark(1)
			}
		}
	}
	if labels.CookieFlag == CookieFlagNo {
		am.NoCookieMeter.Mark(1)
	}
}

// RecordAdapterBidReceived implements a part of the MetricsEngine interface.
// This tracks how many bids from each Bidder use `adm` vs. `nurl`.
func (me *Metrics) RecordAdapterBidReceived(labels AdapterLabels, hasAdm bool) {
	am, aam := me.adapterMetrics(labels, "bid")
	if am == nil {
		return
	}
	am.BidsReceivedMeter.Mark(1)
	if aam != nil {
		aam.BidsReceivedMeter.Mark(1)
	}
	if hasAdm {
		am.AdmMeter.Mark(1)
	} else {
		am.NurlMeter.Mark(1)
	}
}

// RecordAdapterPrice implements a part of the MetricsEngine interface. Generates a histogram of bid prices
func (me *Metrics) RecordAdapterPrice(labels AdapterLabels, cpm float64) {
	am, aam := me.adapterMetrics(labels, "price")
	if am == nil {
		return
	}
	am.PriceHistogram.Update(int64(cpm))
	if aam != nil {
		aam.PriceHistogram.Update(int64(cpm))
	}
}

// RecordAdapterTime implements a part of the MetricsEngine interface. Records the adapter response time
func (me *Metrics) RecordAdapterTime(labels AdapterLabels, length time.Duration) {
	am, aam := me.adapterMetrics(labels, "latency")
	if am == nil {
		return
	}
	am.RequestTimer.Update(length)
	if aam != nil {
		aam.RequestTimer.Update(length)
	}
}
