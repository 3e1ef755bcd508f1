package pbsmetrics

import (
	"time"

	"github.com/mssola/user_agent"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
)

// Labels defines the labels that can be attached to the metrics.
type Labels struct {
	Source        DemandSource
	RType         RequestType
	PubID         string // exchange specific ID, so we cannot compile in values
	Browser       Browser
	CookieFlag    CookieFlag
	RequestStatus RequestStatus
}

// AdapterLabels defines the labels that can be attached to the adapter metrics.
type AdapterLabels struct {
	Source        DemandSource
	RType         RequestType
	Adapter       openrtb_ext.BidderName
	PubID         string // exchange specific ID, so we cannot compile in values
	Browser       Browser
	CookieFlag    CookieFlag
	AdapterBids   AdapterBid
	AdapterErrors map[AdapterError]struct{}
}

// Label typecasting. Se below the type definitions for possible values

// DemandSource : Demand source enumeration
type DemandSource string

// RequestType : Request type enumeration
type RequestType string

// Browser type enumeration
type Browser string

// CookieFlag : User ID cookie exists flag
type CookieFlag string

// RequestStatus : The request return status
type RequestStatus string

// AdapterBid : Whether or not the adapter returned bids
type AdapterBid string

// AdapterError : Errors which may have occurred during the adapter's execution
type AdapterError string

// The demand sources
const (
	DemandWeb     DemandSource = "web"
	DemandUnknown DemandSource = "unknown"
)

func DemandTypes() []DemandSource {
	return []DemandSource{
		DemandWeb,
		DemandUnknown,
	}
}

// The request types (endpoints)
const (
	ReqTypeLegacy RequestType = "legacy"
)

func RequestTypes() []RequestType {
	return []RequestType{
		ReqTypeLegacy,
	}
}

// Browser flag; at this point we only care about identifying Safari
const (
	BrowserSafari Browser = "safari"
	BrowserOther  Browser = "other"
)

// BrowserOf labels a request by its User-Agent header.
func BrowserOf(userAgent string) Browser {
	if name, _ := user_agent.New(userAgent).Browser(); name == "Safari" {
		return BrowserSafari
	}
	return BrowserOther
}

// CookieFlagOf labels a request by whether it carried any cookies.
func CookieFlagOf(cookies int) CookieFlag {
	if cookies > 0 {
		return CookieFlagYes
	}
	return CookieFlagNo
}

func BrowserTypes() []Browser {
	return []Browser{
		BrowserSafari,
		BrowserOther,
	}
}

// Cookie flag
const (
	CookieFlagYes     CookieFlag = "exists"
	CookieFlagNo      CookieFlag = "no"
	CookieFlagUnknown CookieFlag = "unknown"
)

func CookieTypes() []CookieFlag {
	return []CookieFlag{
		CookieFlagYes,
		CookieFlagNo,
		CookieFlagUnknown,
	}
}

// Request/return status
const (
	RequestStatusOK       RequestStatus = "ok"
	RequestStatusBadInput RequestStatus = "badinput"
	RequestStatusErr      RequestStatus = "err"
)

func RequestStatuses() []RequestStatus {
	return []RequestStatus{
		RequestStatusOK,
		RequestStatusBadInput,
		RequestStatusErr,
	}
}

// Adapter bid response status.
const (
	AdapterBidPresent AdapterBid = "bid"
	AdapterBidNone    AdapterBid = "nobid"
)

func AdapterBids() []AdapterBid {
	return []AdapterBid{
		AdapterBidPresent,
		AdapterBidNone,
	}
}

// Adapter execution status
const (
	AdapterErrorBadServerResponse AdapterError = "badserverresponse"
	AdapterErrorTimeout           AdapterError = "timeout"
	AdapterErrorUnknown           AdapterError = "unknown_error"
)

func AdapterErrors() []AdapterError {
	return []AdapterError{
		AdapterErrorBadServerResponse,
		AdapterErrorTimeout,
		AdapterErrorUnknown,
	}
}

// MetricsEngine is a generic interface to record PBS metrics into the desired backend.
// The request metrics fire once per /auction call. The adapter metrics fire once per
// call to a bidder, so there can be several of them per /auction call.
type MetricsEngine interface {
	RecordConnectionAccept(success bool)
	RecordConnectionClose(success bool)
	RecordRequest(labels Labels)
	RecordImps(labels Labels, numImps int)
	RecordRequestTime(labels Labels, length time.Duration)
	RecordAdapterRequest(labels AdapterLabels)
	// RecordAdapterBidReceived tracks whether a bid carried ad markup, or only a win notice url.
	RecordAdapterBidReceived(labels AdapterLabels, hasAdm bool)
	RecordAdapterPrice(labels AdapterLabels, cpm float64)
	RecordAdapterTime(labels AdapterLabels, length time.Duration)
}
