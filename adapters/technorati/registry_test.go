package technorati

import (
	"strconv"
	"sync"
	"testing"

	"github.com/mxmCherry/openrtb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technoratimedia/pbs-technorati/pbs"
)

func TestCounterStartsAtZero(t *testing.T) {
	counter := NewImpressionCounter()
	assert.Equal(t, uint64(0), counter.Next())
	assert.Equal(t, uint64(1), counter.Next())
	assert.Equal(t, uint64(2), counter.Next())
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewImpressionRegistry(NewImpressionCounter())
	slot := &pbs.BidRequest{PlacementCode: "div-top", BidID: "b-1"}

	id := registry.Register("div-top", openrtb.Format{W: 300, H: 250}, slot)
	record, ok := registry.Lookup(strconv.FormatUint(id, 10))
	require.True(t, ok)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "div-top", record.PlacementCode)
	assert.Equal(t, openrtb.Format{W: 300, H: 250}, record.Size)
	assert.Equal(t, slot, record.Bid)
	assert.False(t, record.Validated)
}

func TestRegistryUnknownIDs(t *testing.T) {
	registry := NewImpressionRegistry(NewImpressionCounter())
	registry.Register("div-top", openrtb.Format{}, nil)

	for _, impID := range []string{"cows", "", "1", "-0", "00"} {
		record, ok := registry.Lookup(impID)
		assert.False(t, ok, "impid %q should not resolve", impID)
		assert.Nil(t, record)
	}
}

func TestIDsNeverRepeatAcrossRegistries(t *testing.T) {
	counter := NewImpressionCounter()
	first := NewImpressionRegistry(counter)
	second := NewImpressionRegistry(counter)

	a := first.Register("a", openrtb.Format{}, nil)
	b := second.Register("b", openrtb.Format{}, nil)
	c := first.Register("c", openrtb.Format{}, nil)

	assert.Equal(t, []uint64{0, 1, 2}, []uint64{a, b, c})
	_, ok := first.Lookup(strconv.FormatUint(b, 10))
	assert.False(t, ok, "registries must not see each other's impressions")
	assert.Equal(t, 2, first.Len())
	assert.Equal(t, 1, second.Len())
}

func TestConcurrentRegistriesGetUniqueIDs(t *testing.T) {
	const workers = 16
	const perWorker = 100

	counter := NewImpressionCounter()
	ids := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry := NewImpressionRegistry(counter)
			for i := 0; i < perWorker; i++ {
				ids <- registry.Register("slot", openrtb.Format{}, nil)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, workers*perWorker)
	for id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
