package technorati

import (
	"strconv"
	"sync/atomic"

	"github.com/mxmCherry/openrtb"
	"github.com/technoratimedia/pbs-technorati/pbs"
)

// ImpressionCounter hands out impression ids, starting at 0.
// It is never reset, so ids stay unique for the life of the process.
type ImpressionCounter struct {
	next uint64
}

func NewImpressionCounter() *ImpressionCounter {
	return &ImpressionCounter{}
}

func (c *ImpressionCounter) Next() uint64 {
	return atomic.AddUint64(&c.next, 1) - 1
}

// Shared by every TechnoratiAdapter in the process.
var defaultImpressionCounter = NewImpressionCounter()

// ImpressionRecord remembers which slot an impression id was minted for.
type ImpressionRecord struct {
	ID            uint64
	PlacementCode string
	Size          openrtb.Format
	Bid           *pbs.BidRequest
	// Validated is always false for now. Nothing checks impressions against the response yet.
	Validated bool
}

// ImpressionRegistry maps the impression ids of one outbound request back to their slots.
// It is filled before the request is sent and only read once the response arrives.
type ImpressionRegistry struct {
	counter *ImpressionCounter
	records map[string]*ImpressionRecord
}

func NewImpressionRegistry(counter *ImpressionCounter) *ImpressionRegistry {
	return &ImpressionRegistry{
		counter: counter,
		records: make(map[string]*ImpressionRecord),
	}
}

// Register allocates the next impression id for the slot and stores its record.
func (r *ImpressionRegistry) Register(placementCode string, size openrtb.Format, bid *pbs.BidRequest) uint64 {
	id := r.counter.Next()
	r.records[impressionKey(id)] = &ImpressionRecord{
		ID:            id,
		PlacementCode: placementCode,
		Size:          size,
		Bid:           bid,
	}
	return id
}

// Lookup resolves an impression id as it came back on the wire. Unknown ids are reported as absent.
func (r *ImpressionRegistry) Lookup(impID string) (*ImpressionRecord, bool) {
	record, ok := r.records[impID]
	return record, ok
}

func (r *ImpressionRegistry) Len() int {
	return len(r.records)
}

func impressionKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
