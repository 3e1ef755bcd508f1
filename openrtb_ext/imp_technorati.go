package openrtb_ext

// ExtImpTechnorati defines the contract for ad_units[i].bids[j].params when the bidder is technorati.
type ExtImpTechnorati struct {
	PublisherID string `json:"publisherId"`
	PlacementID string `json:"placementId"`
}
