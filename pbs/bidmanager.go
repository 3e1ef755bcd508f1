package pbs

import (
	"math/rand"
	"strconv"

	"github.com/gofrs/uuid"
)

type StatusCode int

const (
	// StatusGood marks a bid that can compete in the auction.
	StatusGood StatusCode = 1
	// StatusNoBid marks a slot the bidder declined, or whose response could not be used.
	StatusNoBid StatusCode = 2
)

// BidResult is one outcome reported for one ad slot.
type BidResult struct {
	StatusCode   StatusCode `json:"status_code"`
	BidderCode   string     `json:"bidder"`
	BidID        string     `json:"bid_id,omitempty"`
	AdID         string     `json:"ad_id"`
	AdUnitCode   string     `json:"code"`
	Ad           string     `json:"adm,omitempty"`
	CPM          float64    `json:"price"`
	Width        uint64     `json:"width"`
	Height       uint64     `json:"height"`
	CreativeID   string     `json:"creative_id"`
	PubapiID     string     `json:"pubapi_id,omitempty"`
	CurrencyCode string     `json:"currency,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Raw          string     `json:"raw,omitempty"`
	ResponseTime int        `json:"response_time_ms,omitempty"`
}

// BidManager receives the results an adapter produces for a single auction.
type BidManager interface {
	AddBidResponse(placementCode string, bid *BidResult)
	AdapterDone(bidderCode string)
}

// NewBid creates a result with the given status. The ad id is the slot's bid id
// when the result can be traced to a slot, and a fresh unique id otherwise.
func NewBid(status StatusCode, req *BidRequest) *BidResult {
	bid := &BidResult{
		StatusCode: status,
	}
	if req != nil {
		bid.BidderCode = req.Bidder
		bid.BidID = req.BidID
		bid.AdUnitCode = req.PlacementCode
	}
	if bid.BidID != "" {
		bid.AdID = bid.BidID
	} else {
		bid.AdID = newAdID()
	}
	return bid
}

func newAdID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return strconv.FormatInt(rand.Int63(), 10)
	}
	return id.String()
}

// BidResults sorts by descending CPM.
type BidResults []*BidResult

func (bids BidResults) Len() int {
	return len(bids)
}

func (bids BidResults) Less(i, j int) bool {
	return bids[i].CPM > bids[j].CPM
}

func (bids BidResults) Swap(i, j int) {
	bids[i], bids[j] = bids[j], bids[i]
}
