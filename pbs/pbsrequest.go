package pbs

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"
	"github.com/technoratimedia/pbs-technorati/cache"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/errortypes"
	"golang.org/x/net/publicsuffix"
)

const maxBidders = 8

type Bids struct {
	BidderCode string          `json:"bidder"`
	BidID      string          `json:"bid_id"`
	Params     json.RawMessage `json:"params"`
}

// AdUnitSizes accepts either [[300,250],[728,90]] or [{"w":300,"h":250}].
type AdUnitSizes []openrtb.Format

func (sizes *AdUnitSizes) UnmarshalJSON(b []byte) error {
	var formats []openrtb.Format
	if err := json.Unmarshal(b, &formats); err == nil {
		*sizes = formats
		return nil
	}

	var pairs [][]uint64
	if err := json.Unmarshal(b, &pairs); err != nil {
		return fmt.Errorf("sizes must be a list of [w, h] pairs or {w, h} objects")
	}
	formats = make([]openrtb.Format, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("size %v is not a [w, h] pair", pair)
		}
		formats = append(formats, openrtb.Format{W: pair[0], H: pair[1]})
	}
	*sizes = formats
	return nil
}

type AdUnit struct {
	Code     string      `json:"code"`
	TopFrame int8        `json:"is_top_frame"`
	Sizes    AdUnitSizes `json:"sizes"`
	Bids     []Bids      `json:"bids"`
	ConfigID string      `json:"config_id"`
}

// BidRequest is one ad slot as seen by one bidder.
type BidRequest struct {
	Bidder          string
	BidID           string
	BidderRequestID string
	PlacementCode   string
	TopFrame        int8
	Sizes           []openrtb.Format
	Params          json.RawMessage
}

// BidderRequest is the batch of slots sent to one bidder, and that bidder's status in the response.
type BidderRequest struct {
	BidderCode   string `json:"bidder"`
	RequestID    string `json:"request_id,omitempty"`
	ResponseTime int    `json:"response_time_ms,omitempty"`
	NumBids      int    `json:"num_bids,omitempty"`
	Error        string `json:"error,omitempty"`
	NoBid        bool   `json:"no_bid,omitempty"`

	Bids []*BidRequest `json:"-"`
}

// BrowsingContext describes the page the auction runs for.
type BrowsingContext struct {
	Page      string
	Referrer  string
	Hostname  string
	UserAgent string
	Secure    bool
	Cookies   []*http.Cookie
}

type PBSRequest struct {
	AccountID     string   `json:"account_id"`
	Tid           string   `json:"tid"`
	SortBids      int8     `json:"sort_bids"`
	TimeoutMillis uint64   `json:"timeout_millis"`
	AdUnits       []AdUnit `json:"ad_units"`
	IsDebug       bool     `json:"is_debug"`
	Url           string   `json:"url"`
	Referrer      string   `json:"referrer"`

	// internal
	Bidders  []*BidderRequest `json:"-"`
	Browsing *BrowsingContext `json:"-"`
	Domain   string           `json:"-"`
	Start    time.Time        `json:"-"`
}

// ConfigGet loads the bid list stored under an ad unit's config_id.
func ConfigGet(dataCache cache.Cache, id string) ([]Bids, error) {
	conf, err := dataCache.GetConfig(id)
	if err != nil {
		return nil, err
	}

	bids := make([]Bids, 0)
	if err := json.Unmarshal([]byte(conf), &bids); err != nil {
		return nil, err
	}
	return bids, nil
}

// ParsePBSRequest decodes an /auction body and groups its bids per bidder.
// Every error it returns is an *errortypes.BadInput.
func ParsePBSRequest(r *http.Request, cfg *config.Configuration, dataCache cache.Cache) (*PBSRequest, error) {
	defer r.Body.Close()

	pbsReq := &PBSRequest{}
	if err := json.NewDecoder(r.Body).Decode(pbsReq); err != nil {
		return nil, &errortypes.BadInput{Message: fmt.Sprintf("Failed to parse request body: %v", err)}
	}
	pbsReq.Start = time.Now()

	if len(pbsReq.AdUnits) == 0 {
		return nil, &errortypes.BadInput{Message: "No ad units specified"}
	}

	timeout := cfg.LimitAuctionTimeout(time.Duration(pbsReq.TimeoutMillis) * time.Millisecond)
	pbsReq.TimeoutMillis = uint64(timeout / time.Millisecond)

	if r.FormValue("debug") == "1" {
		pbsReq.IsDebug = true
	}

	browsing, domain, err := parseBrowsingContext(r, pbsReq)
	if err != nil {
		return nil, err
	}
	pbsReq.Browsing = browsing
	pbsReq.Domain = domain

	pbsReq.Bidders = make([]*BidderRequest, 0, maxBidders)
	for _, unit := range pbsReq.AdUnits {
		bidders := unit.Bids
		if unit.ConfigID != "" {
			bidders, err = ConfigGet(dataCache, unit.ConfigID)
			if err != nil {
				// proceed with other ad units
				glog.Infof("Unable to load config '%s': %v", unit.ConfigID, err)
				continue
			}
		}

		if glog.V(2) {
			glog.Infof("Ad unit %s has %d bidders for %d sizes", unit.Code, len(bidders), len(unit.Sizes))
		}

		for _, b := range bidders {
			bidder := pbsReq.lookupBidder(b.BidderCode)
			if b.BidID == "" {
				b.BidID = strconv.FormatInt(rand.Int63(), 10)
			}

			bidder.Bids = append(bidder.Bids, &BidRequest{
				Bidder:          b.BidderCode,
				BidID:           b.BidID,
				BidderRequestID: bidder.RequestID,
				PlacementCode:   unit.Code,
				TopFrame:        unit.TopFrame,
				Sizes:           []openrtb.Format(unit.Sizes),
				Params:          json.RawMessage(b.Params),
			})
		}
	}

	return pbsReq, nil
}

func (req *PBSRequest) lookupBidder(code string) *BidderRequest {
	for _, bidder := range req.Bidders {
		if bidder.BidderCode == code {
			return bidder
		}
	}
	bidder := &BidderRequest{
		BidderCode: code,
		RequestID:  strconv.FormatInt(rand.Int63(), 10),
	}
	req.Bidders = append(req.Bidders, bidder)
	return bidder
}

// parseBrowsingContext prefers the page url from the body and falls back to the Referer header.
func parseBrowsingContext(r *http.Request, pbsReq *PBSRequest) (*BrowsingContext, string, error) {
	page := pbsReq.Url
	if page == "" {
		page = r.Header.Get("Referer")
	}
	if !strings.HasPrefix(page, "http") {
		page = fmt.Sprintf("http://%s", page)
	}

	pageURL, err := url.Parse(page)
	if err != nil {
		return nil, "", &errortypes.BadInput{Message: fmt.Sprintf("Invalid URL '%s': %v", page, err)}
	}
	if pageURL.Host == "" {
		return nil, "", &errortypes.BadInput{Message: fmt.Sprintf("Host not found from URL '%v'", page)}
	}

	hostname := pageURL.Hostname()
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return nil, "", &errortypes.BadInput{Message: fmt.Sprintf("Invalid URL '%s': %v", hostname, err)}
	}

	return &BrowsingContext{
		Page:      page,
		Referrer:  pbsReq.Referrer,
		Hostname:  hostname,
		UserAgent: r.Header.Get("User-Agent"),
		Secure:    pageURL.Scheme == "https",
		Cookies:   r.Cookies(),
	}, domain, nil
}

func (req *PBSRequest) Elapsed() int {
	return int(time.Since(req.Start) / time.Millisecond)
}

func (req PBSRequest) String() string {
	b, _ := json.MarshalIndent(req, "", "    ")
	return string(b)
}
