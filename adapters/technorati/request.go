package technorati

import (
	"encoding/json"

	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
)

// The exchange only ever sees one request per batch, so the request id is fixed.
const requestID = 1

// buildRequest turns a batch of slots into the exchange's request body. Every slot gets a
// fresh impression id, registered so the response can be mapped back to it.
// The publisher id of the whole batch comes from the first slot.
// ok is false when the batch is empty, in which case nothing is registered.
func buildRequest(req *pbs.BidderRequest, browsing *pbs.BrowsingContext, registry *ImpressionRegistry) (ortbReq *ortbRequest, publisherID string, ok bool) {
	if req == nil || len(req.Bids) == 0 {
		return nil, "", false
	}
	if browsing == nil {
		browsing = &pbs.BrowsingContext{}
	}

	ortbReq = &ortbRequest{
		ID: requestID,
		Site: ortbSite{
			Domain: browsing.Hostname,
			Page:   browsing.Page,
			Ref:    browsing.Referrer,
		},
		Device: ortbDevice{
			UA: browsing.UserAgent,
		},
		Imp: make([]ortbImp, 0, len(req.Bids)),
	}

	for i, slot := range req.Bids {
		params := slotParams(slot)
		if i == 0 {
			publisherID = params.PublisherID
		}

		var size openrtb.Format
		if len(slot.Sizes) > 0 {
			size = slot.Sizes[0]
		}

		impID := registry.Register(slot.PlacementCode, size, slot)
		ortbReq.Imp = append(ortbReq.Imp, ortbImp{
			ID:    impID,
			TagID: params.PlacementID,
			Banner: ortbBanner{
				W:   size.W,
				H:   size.H,
				Pos: i,
			},
		})
	}
	return ortbReq, publisherID, true
}

func slotParams(slot *pbs.BidRequest) openrtb_ext.ExtImpTechnorati {
	var params openrtb_ext.ExtImpTechnorati
	if len(slot.Params) == 0 {
		return params
	}
	if err := json.Unmarshal(slot.Params, &params); err != nil {
		glog.V(2).Infof("technorati: ignoring params of slot %s: %v", slot.PlacementCode, err)
		return openrtb_ext.ExtImpTechnorati{}
	}
	return params
}
