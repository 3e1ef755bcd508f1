package router

import (
	"net/http"
	"net/http/pprof"

	"github.com/technoratimedia/pbs-technorati/endpoints"
)

// Admin serves the profiling and version endpoints on the admin port.
func Admin(revision string) *http.ServeMux {
	// Add endpoints to the admin server
	// Making sure to add pprof routes
	mux := http.NewServeMux()
	// Register pprof handlers
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	// Register version endpoint
	mux.HandleFunc("/version", endpoints.NewVersionEndpoint(revision))
	return mux
}
