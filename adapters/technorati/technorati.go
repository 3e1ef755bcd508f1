package technorati

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"text/template"
	"time"

	"github.com/golang/glog"
	"github.com/technoratimedia/pbs-technorati/adapters"
	"github.com/technoratimedia/pbs-technorati/errortypes"
	"github.com/technoratimedia/pbs-technorati/macros"
	"github.com/technoratimedia/pbs-technorati/openrtb_ext"
	"github.com/technoratimedia/pbs-technorati/pbs"
	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
	metricsConf "github.com/technoratimedia/pbs-technorati/pbsmetrics/config"
)

// TechnoratiAdapter talks to the Technorati exchange. Each CallBids sends exactly one request
// carrying every slot of the batch.
type TechnoratiAdapter struct {
	http     *adapters.HTTPAdapter
	endpoint *template.Template
	counter  *ImpressionCounter
	metrics  pbsmetrics.MetricsEngine
}

// NewTechnoratiAdapter builds an adapter posting to the endpoint template, which may use
// {{.PublisherID}} and {{.Secure}}.
func NewTechnoratiAdapter(cfg *adapters.HTTPAdapterConfig, endpoint string, metrics pbsmetrics.MetricsEngine) (*TechnoratiAdapter, error) {
	tmpl, err := template.New("endpointTemplate").Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to parse endpoint url template: %v", err)
	}
	if metrics == nil {
		metrics = &metricsConf.DummyMetricsEngine{}
	}
	return &TechnoratiAdapter{
		http:     adapters.NewHTTPAdapter(cfg),
		endpoint: tmpl,
		counter:  defaultImpressionCounter,
		metrics:  metrics,
	}, nil
}

func (a *TechnoratiAdapter) Name() string {
	return string(openrtb_ext.BidderTechnorati)
}

func (a *TechnoratiAdapter) FamilyName() string {
	return string(openrtb_ext.BidderTechnorati)
}

func (a *TechnoratiAdapter) CallBids(ctx context.Context, req *pbs.BidderRequest, browsing *pbs.BrowsingContext, manager pbs.BidManager) bool {
	registry := NewImpressionRegistry(a.counter)
	ortbReq, publisherID, ok := buildRequest(req, browsing, registry)
	if !ok {
		return false
	}
	if browsing == nil {
		browsing = &pbs.BrowsingContext{}
	}

	labels := pbsmetrics.AdapterLabels{
		Source:        pbsmetrics.DemandWeb,
		RType:         pbsmetrics.ReqTypeLegacy,
		Adapter:       openrtb_ext.BidderTechnorati,
		Browser:       pbsmetrics.BrowserOf(browsing.UserAgent),
		CookieFlag:    pbsmetrics.CookieFlagOf(len(browsing.Cookies)),
		AdapterErrors: make(map[pbsmetrics.AdapterError]struct{}),
	}

	uri, body, err := a.prepare(ortbReq, publisherID, browsing.Secure)
	if err != nil {
		glog.Errorf("technorati: unable to prepare bid request: %v", err)
		labels.AdapterErrors[pbsmetrics.AdapterErrorUnknown] = struct{}{}
		a.finish(labels, time.Now(), mapResponse(req, registry, "", manager), manager)
		return true
	}

	start := time.Now()
	opts := adapters.RequestOptions{
		WithCredentials: true,
		Cookies:         browsing.Cookies,
	}
	a.http.Post(ctx, uri, body, opts, func(respBody string, err error) {
		if err != nil {
			glog.Warningf("technorati: request to %s failed: %v", uri, err)
			labels.AdapterErrors[classifyError(err)] = struct{}{}
		}
		a.finish(labels, start, mapResponse(req, registry, respBody, manager), manager)
	})
	return true
}

func (a *TechnoratiAdapter) prepare(ortbReq *ortbRequest, publisherID string, secure bool) (string, []byte, error) {
	body, err := json.Marshal(ortbReq)
	if err != nil {
		return "", nil, err
	}
	uri, err := a.endpointURL(publisherID, secure)
	if err != nil {
		return "", nil, err
	}
	return uri, body, nil
}

// endpointURL resolves the endpoint for a publisher. An empty publisher id leaves an empty path segment.
func (a *TechnoratiAdapter) endpointURL(publisherID string, secure bool) (string, error) {
	return macros.ResolveMacros(*a.endpoint, macros.EndpointTemplateParams{
		PublisherID: url.PathEscape(publisherID),
		Secure:      secure,
	})
}

func (a *TechnoratiAdapter) finish(labels pbsmetrics.AdapterLabels, start time.Time, results []*pbs.BidResult, manager pbs.BidManager) {
	labels.AdapterBids = pbsmetrics.AdapterBidNone
	for _, result := range results {
		if result.StatusCode == pbs.StatusGood {
			labels.AdapterBids = pbsmetrics.AdapterBidPresent
			break
		}
	}

	a.metrics.RecordAdapterRequest(labels)
	a.metrics.RecordAdapterTime(labels, time.Since(start))
	for _, result := range results {
		if result.StatusCode != pbs.StatusGood {
			continue
		}
		a.metrics.RecordAdapterBidReceived(labels, result.Ad != "")
		a.metrics.RecordAdapterPrice(labels, result.CPM)
	}
	manager.AdapterDone(a.Name())
}

func classifyError(err error) pbsmetrics.AdapterError {
	switch errortypes.ReadCode(err) {
	case errortypes.TimeoutErrorCode:
		return pbsmetrics.AdapterErrorTimeout
	case errortypes.BadServerResponseErrorCode:
		return pbsmetrics.AdapterErrorBadServerResponse
	default:
		return pbsmetrics.AdapterErrorUnknown
	}
}
