package technorati

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type ortbRequest struct {
	ID     int        `json:"id"`
	Site   ortbSite   `json:"site"`
	Device ortbDevice `json:"device"`
	Imp    []ortbImp  `json:"imp"`
}

type ortbSite struct {
	Domain string `json:"domain"`
	Page   string `json:"page"`
	Ref    string `json:"ref"`
}

type ortbDevice struct {
	UA string `json:"ua"`
}

type ortbImp struct {
	ID     uint64     `json:"id"`
	TagID  string     `json:"tagid,omitempty"`
	Banner ortbBanner `json:"banner"`
}

type ortbBanner struct {
	W   uint64 `json:"w"`
	H   uint64 `json:"h"`
	Pos int    `json:"pos"`
}

type ortbResponse struct {
	BidID   looseString   `json:"bidid"`
	SeatBid []ortbSeatBid `json:"seatbid"`
}

type ortbSeatBid struct {
	Seat looseString `json:"seat"`
	Bid  []ortbBid   `json:"bid"`
}

type ortbBid struct {
	ID    looseString `json:"id"`
	ImpID looseString `json:"impid"`
	Price looseString `json:"price"`
	AdM   looseString `json:"adm"`
	NURL  looseString `json:"nurl"`
	AdID  looseString `json:"adid"`
	CID   looseString `json:"cid"`
}

// looseString accepts any JSON value and keeps its textual form.
// Strings are unquoted, numbers are written without trailing zeros or exponent,
// null leaves the value unset, and anything else keeps its raw JSON text.
type looseString struct {
	value string
	set   bool
	falsy bool
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = looseString{}
		return nil
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = looseString{value: str, set: true, falsy: str == ""}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			*s = looseString{value: strconv.FormatFloat(f, 'f', -1, 64), set: true, falsy: f == 0}
		} else {
			*s = looseString{value: string(b), set: true}
		}
	default:
		*s = looseString{value: string(b), set: true, falsy: bytes.Equal(b, []byte("false"))}
	}
	return nil
}

func (s looseString) String() string {
	return s.value
}

// OrEmpty is the textual value, or "" for absent values and for "", 0 and false.
func (s looseString) OrEmpty() string {
	if s.falsy {
		return ""
	}
	return s.value
}

// IsSet is false for absent and null values.
func (s looseString) IsSet() bool {
	return s.set
}
