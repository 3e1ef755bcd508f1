package router

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	metricsConf "github.com/technoratimedia/pbs-technorati/pbsmetrics/config"
)

const adapterDirectory = "../adapters"

type testValidator struct{}

func (validator *testValidator) Validate(name openrtb_ext.BidderName, ext json.RawMessage) error {
	return nil
}

func (validator *testValidator) Schema(name openrtb_ext.BidderName) string {
	if name == openrtb_ext.BidderTechnorati {
		return "{\"technorati\":true}"
	}
	return "{\"technorati\":false}"
}

func ensureHasKey(t *testing.T, data map[string]json.RawMessage, key string) {
	t.Helper()
	if _, ok := data[key]; !ok {
		t.Errorf("Expected map to produce a schema for adapter: %s", key)
	}
}

func TestNewJsonDirectoryServer(t *testing.T) {
	handler := NewJsonDirectoryServer("../static/bidder-params", &testValidator{})
	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest("GET", "/whatever", nil)
	handler(recorder, request, nil)

	var data map[string]json.RawMessage
	json.Unmarshal(recorder.Body.Bytes(), &data)

	// Make sure that every adapter has a json schema by the same name associated with it.
	adapterFiles, err := ioutil.ReadDir(adapterDirectory)
	if err != nil {
		t.Fatalf("Failed to open the adapters directory: %v", err)
	}

	for _, adapterFile := range adapterFiles {
		if adapterFile.IsDir() {
			ensureHasKey(t, data, adapterFile.Name())
		}
	}
	assert.JSONEq(t, `{"technorati":true}`, string(data["technorati"]))
}

func TestNoCache(t *testing.T) {
	nc := NoCache{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	}
	rw := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "http://localhost/nocache", nil)
	if err != nil {
		t.Fatalf("Unable to create request: %v", err)
	}
	nc.ServeHTTP(rw, req)
	h := rw.Header()
	assert.Equal(t, "no-cache, no-store, must-revalidate", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
	assert.Equal(t, "0", h.Get("Expires"))
}

func TestSupportCORSWithCredentials(t *testing.T) {
	handler := SupportCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("POST", "/auction", nil)
	req.Header.Set("Origin", "https://news.example.com")
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, "https://news.example.com", rw.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rw.Header().Get("Access-Control-Allow-Credentials"))
}

func testConfig(t *testing.T) *config.Configuration {
	v := viper.New()
	config.SetupViper(v, "")
	cfg, err := config.New(v)
	require.NoError(t, err)
	return cfg
}

func TestExchangeMap(t *testing.T) {
	cfg := testConfig(t)
	exchanges, err := newExchangeMap(cfg, &metricsConf.DummyMetricsEngine{})
	require.NoError(t, err)
	require.Contains(t, exchanges, "technorati")
	assert.Equal(t, "technorati", exchanges["technorati"].Name())

	// Every adapter must be a known bidder, with a params schema.
	for code := range exchanges {
		_, ok := openrtb_ext.GetBidderName(code)
		assert.True(t, ok, "adapter %s is not a known bidder", code)
	}
}

func TestExchangeMapSkipsDisabledAdapters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adapters["technorati"] = config.Adapter{Endpoint: cfg.Adapters["technorati"].Endpoint, Disabled: true}

	exchanges, err := newExchangeMap(cfg, &metricsConf.DummyMetricsEngine{})
	require.NoError(t, err)
	assert.Empty(t, exchanges)
}

func TestExchangeMapRejectsBadEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adapters["technorati"] = config.Adapter{Endpoint: "http://{{.PublisherID"}

	_, err := newExchangeMap(cfg, &metricsConf.DummyMetricsEngine{})
	assert.Error(t, err)
}

func TestAdminServesVersion(t *testing.T) {
	recorder := httptest.NewRecorder()
	Admin("abc123").ServeHTTP(recorder, httptest.NewRequest("GET", "/version", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"revision":"abc123"}`, recorder.Body.String())
}
