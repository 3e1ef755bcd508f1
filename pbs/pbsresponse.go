package pbs

// PBSResponse is the body of an /auction response.
type PBSResponse struct {
	Status       string           `json:"status,omitempty"`
	TID          string           `json:"tid,omitempty"`
	BidderStatus []*BidderRequest `json:"bidder_status,omitempty"`
	Bids         BidResults       `json:"bids,omitempty"`
	NoBids       []*BidResult     `json:"no_bids,omitempty"`
}
