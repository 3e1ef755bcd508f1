package router

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/technoratimedia/pbs-technorati/adapters"
	"github.com/technoratimedia/pbs-technorati/adapters/technorati"
	"github.com/technoratimedia/pbs-technorati/cache"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/endpoints"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
	metricsConf "github.com/technoratimedia/pbs-technorati/pbsmetrics/config"
)

const schemaDirectory = "static/bidder-params"

// NewJsonDirectoryServer is used to serve .json files from a directory as a single blob. For example,
// given a directory containing the files "a.json" and "b.json", this returns a Handle which serves JSON like:
//
// {
//   "a": { ... content from the file a.json ... },
//   "b": { ... content from the file b.json ... }
// }
//
// This function stores the file contents in memory, and should not be used on large directories.
// If the root directory, or any of the files in it, cannot be read, then the program will exit.
func NewJsonDirectoryServer(schemaDirectory string, validator openrtb_ext.BidderParamValidator) httprouter.Handle {
	// Slurp the files into memory first, since they're small and it minimizes request latency.
	files, err := ioutil.ReadDir(schemaDirectory)
	if err != nil {
		glog.Fatalf("Failed to read directory %s: %v", schemaDirectory, err)
	}

	data := make(map[string]json.RawMessage, len(files))
	for _, file := range files {
		bidder := strings.TrimSuffix(file.Name(), ".json")
		bidderName, isValid := openrtb_ext.GetBidderName(bidder)
		if !isValid {
			glog.Fatalf("Schema exists for an unknown bidder: %s", bidder)
		}
		data[bidder] = json.RawMessage(validator.Schema(bidderName))
	}

	response, err := json.Marshal(data)
	if err != nil {
		glog.Fatalf("Failed to marshal bidder param JSON-schema: %v", err)
	}

	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Add("Content-Type", "application/json")
		w.Write(response)
	}
}

type NoCache struct {
	Handler http.Handler
}

func (m NoCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Add("Pragma", "no-cache")
	w.Header().Add("Expires", "0")
	m.Handler.ServeHTTP(w, r)
}

// newExchangeMap builds one adapter per enabled bidder, keyed by bidder code.
func newExchangeMap(cfg *config.Configuration, metrics pbsmetrics.MetricsEngine) (map[string]adapters.Adapter, error) {
	httpConfig := &adapters.HTTPAdapterConfig{
		IdleConnTimeout: time.Duration(cfg.HTTPClient.IdleConnTimeout) * time.Second,
		MaxConns:        cfg.HTTPClient.MaxIdleConns,
		MaxConnsPerHost: cfg.HTTPClient.MaxConnsPerHost,
		Timeout:         time.Duration(cfg.HTTPClient.TimeoutMillis) * time.Millisecond,
	}

	exchanges := make(map[string]adapters.Adapter)
	if adapterCfg, ok := cfg.Adapters[string(openrtb_ext.BidderTechnorati)]; ok && !adapterCfg.Disabled {
		adapter, err := technorati.NewTechnoratiAdapter(httpConfig, adapterCfg.Endpoint, metrics)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", openrtb_ext.BidderTechnorati, err)
		}
		exchanges[adapter.Name()] = adapter
	}
	return exchanges, nil
}

type Router struct {
	*httprouter.Router
	MetricsEngine   *metricsConf.DetailedMetricsEngine
	ParamsValidator openrtb_ext.BidderParamValidator
	DataCache       cache.Cache
	Shutdown        func()
}

// New wires every endpoint of the server. The returned Router's Shutdown releases the data cache.
func New(cfg *config.Configuration) (r *Router, err error) {
	r = &Router{
		Router: httprouter.New(),
	}

	r.MetricsEngine = metricsConf.NewMetricsEngine(cfg, openrtb_ext.BidderList())

	r.DataCache, err = cache.New(&cfg.DataCache)
	if err != nil {
		return nil, fmt.Errorf("Prebid Server could not load data cache: %v", err)
	}
	r.Shutdown = func() {
		if err := r.DataCache.Close(); err != nil {
			glog.Errorf("Failed to close the data cache: %v", err)
		}
	}

	r.ParamsValidator, err = openrtb_ext.NewBidderParamsValidator(schemaDirectory)
	if err != nil {
		return nil, fmt.Errorf("Failed to create the bidder params validator. %v", err)
	}

	exchanges, err := newExchangeMap(cfg, r.MetricsEngine)
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize adapters: %v", err)
	}

	r.POST("/auction", endpoints.Auction(cfg, r.MetricsEngine, r.DataCache, r.ParamsValidator, exchanges))
	r.POST("/validate", endpoints.NewValidateEndpoint(r.ParamsValidator))
	r.GET("/bidders/params", NewJsonDirectoryServer(schemaDirectory, r.ParamsValidator))
	r.GET("/status", endpoints.NewStatusEndpoint(cfg.StatusResponse))
	r.ServeFiles("/static/*filepath", http.Dir("static"))

	return r, nil
}

// SupportCORS allows credentialed requests from any origin.
//
// This is an inherent security risk. However, PBS doesn't use cookies for authorization--just identification.
// The exchange sees the same cookies on its own domain anyway.
//
// For more info, see:
//
// - https://github.com/rs/cors/issues/55
// - https://developer.mozilla.org/en-US/docs/Web/HTTP/CORS/Errors/CORSNotSupportingCredentials
func SupportCORS(handler http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowCredentials: true,
		AllowOriginFunc: func(string) bool {
			return true
		},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept"}})
	return c.Handler(handler)
}
