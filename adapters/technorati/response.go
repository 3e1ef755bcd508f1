package technorati

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/golang/glog"
	"github.com/technoratimedia/pbs-technorati/macros"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
	"golang.org/x/text/currency"
)

// The exchange quotes prices in tenths of the unit the auction works in.
const priceMultiplier = 10

const noBidReason = "no bid"

var bidCurrency = currency.USD.String()

// parseResponse never fails. Bodies which are empty, malformed, or not a JSON object
// parse to a response with no seat bids.
func parseResponse(body string) *ortbResponse {
	empty := &ortbResponse{SeatBid: []ortbSeatBid{}}

	data := []byte(body)
	if _, dataType, _, err := jsonparser.Get(data); err != nil || dataType != jsonparser.Object {
		if glog.V(2) && body != "" {
			glog.Infof("technorati: response body is not a JSON object: %s", body)
		}
		return empty
	}

	var resp ortbResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		glog.V(2).Infof("technorati: failed to parse response body: %v", err)
		return empty
	}
	if resp.SeatBid == nil {
		resp.SeatBid = []ortbSeatBid{}
	}
	return &resp
}

// mapResponse reports one result per bid in the response, or one no-bid result per submitted
// slot when the first seat carries no bids. The results are also returned, in reporting order.
func mapResponse(req *pbs.BidderRequest, registry *ImpressionRegistry, body string, manager pbs.BidManager) []*pbs.BidResult {
	resp := parseResponse(body)
	if len(resp.SeatBid) == 0 || len(resp.SeatBid[0].Bid) == 0 {
		return reportNoBids(req, body, manager)
	}

	results := make([]*pbs.BidResult, 0, len(resp.SeatBid[0].Bid))
	for _, seatBid := range resp.SeatBid {
		for i := range seatBid.Bid {
			result, placementCode := mapBid(resp, seatBid, &seatBid.Bid[i], registry)
			manager.AddBidResponse(placementCode, result)
			results = append(results, result)
		}
	}
	return results
}

func reportNoBids(req *pbs.BidderRequest, body string, manager pbs.BidManager) []*pbs.BidResult {
	if req == nil {
		return nil
	}
	results := make([]*pbs.BidResult, 0, len(req.Bids))
	for _, slot := range req.Bids {
		result := pbs.NewBid(pbs.StatusNoBid, slot)
		result.BidderCode = string(openrtb_ext.BidderTechnorati)
		result.Reason = noBidReason
		result.Raw = body
		manager.AddBidResponse(slot.PlacementCode, result)
		results = append(results, result)
	}
	return results
}

func mapBid(resp *ortbResponse, seatBid ortbSeatBid, bid *ortbBid, registry *ImpressionRegistry) (*pbs.BidResult, string) {
	record, found := registry.Lookup(bid.ImpID.String())
	if !found {
		glog.V(2).Infof("technorati: bid %s names unknown impression %s", bid.ID, bid.ImpID)
		record = &ImpressionRecord{}
	}

	result := pbs.NewBid(pbs.StatusGood, record.Bid)
	result.BidderCode = string(openrtb_ext.BidderTechnorati)
	result.AdUnitCode = record.PlacementCode
	result.Width = record.Size.W
	result.Height = record.Size.H
	result.Ad = macros.ResolveCreative(creativeMarkup(bid), creativeMacros(resp, seatBid, bid))
	result.CPM = coercePrice(bid.Price) * priceMultiplier
	result.CreativeID = bid.CID.OrEmpty()
	result.PubapiID = bid.ID.String()
	result.CurrencyCode = bidCurrency
	return result, record.PlacementCode
}

func creativeMarkup(bid *ortbBid) string {
	if nurl := bid.NURL.String(); nurl != "" {
		return "<img src='" + nurl + "'>" + bid.AdM.String()
	}
	return bid.AdM.String()
}

func creativeMacros(resp *ortbResponse, seatBid ortbSeatBid, bid *ortbBid) map[string]string {
	bidID := resp.BidID.OrEmpty()
	if bidID == "" {
		bidID = bid.ID.String()
	}
	return map[string]string{
		macros.AuctionSeatID:   seatBid.Seat.String(),
		macros.AuctionID:       strconv.Itoa(requestID),
		macros.AuctionBidID:    bidID,
		macros.AuctionImpID:    bid.ImpID.String(),
		macros.AuctionAdID:     bid.AdID.OrEmpty(),
		macros.AuctionPrice:    bid.Price.String(),
		macros.AuctionCurrency: bidCurrency,
	}
}

// coercePrice reads a price sent as a JSON string or number. Missing, unparsable and
// non-finite prices are 0.
func coercePrice(price looseString) float64 {
	raw := strings.TrimSpace(price.String())
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		glog.Warningf("technorati: unparsable price %q treated as 0", raw)
		return 0
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		glog.Warningf("technorati: non-finite price %q treated as 0", raw)
		return 0
	}
	return value
}
