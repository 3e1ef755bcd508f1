package endpoints

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
)

type validateRequest struct {
	AdUnits []pbs.AdUnit `json:"ad_units"`
}

// NewValidateEndpoint implements POST /validate. It checks the params of every bid in an
// /auction body against the bidder's JSON schema and reports each problem on its own line.
func NewValidateEndpoint(validator openrtb_ext.BidderParamValidator) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Add("Content-Type", "text/plain")
		defer r.Body.Close()
		b, err := ioutil.ReadAll(r.Body)
		if err != nil {
			fmt.Fprintf(w, "Unable to read body\n")
			return
		}

		var req validateRequest
		if err := json.Unmarshal(b, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error parsing json: %v\n", err)
			return
		}

		problems := validateAdUnits(validator, req.AdUnits)
		if len(problems) == 0 {
			fmt.Fprintf(w, "Validation successful\n")
			return
		}
		for _, problem := range problems {
			fmt.Fprintf(w, "Error: %s\n", problem)
		}
	}
}

func validateAdUnits(validator openrtb_ext.BidderParamValidator, units []pbs.AdUnit) []string {
	var problems []string
	for i, unit := range units {
		for j, bid := range unit.Bids {
			location := fmt.Sprintf("ad_units[%d].bids[%d]", i, j)
			name, ok := openrtb_ext.GetBidderName(bid.BidderCode)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s.bidder: unknown bidder %q", location, bid.BidderCode))
				continue
			}
			if err := validator.Validate(name, []byte(bid.Params)); err != nil {
				problems = append(problems, fmt.Sprintf("%s.params: %v", location, err))
			}
		}
	}
	return problems
}
