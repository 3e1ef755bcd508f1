/*
Package openrtb_ext defines the bidder names known to the server and the contracts for their params.

Bidder params are validated by a BidderParamValidator, which relies on the json-schemas from
static/bidder-params/{bidder}.json
*/
package openrtb_ext
