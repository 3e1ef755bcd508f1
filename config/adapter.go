package config

import (
	"fmt"
	"text/template"

	validator "github.com/asaskevich/govalidator"
	"github.com/technoratimedia/pbs-technorati/macros"
)

// Adapter is the config for a single bidder adapter.
// Endpoint is a text/template resolved with macros.EndpointTemplateParams.
type Adapter struct {
	Endpoint string `mapstructure:"endpoint"`
	Disabled bool   `mapstructure:"disabled"`
}

const (
	dummyHost        = "dummyhost.com"
	dummyPublisherID = "12"
)

func validateAdapters(adapterMap map[string]Adapter, errs []error) []error {
	for adapterName, adapter := range adapterMap {
		if !adapter.Disabled {
			errs = validateAdapterEndpoint(adapter.Endpoint, adapterName, errs)
		}
	}
	return errs
}

func validateAdapterEndpoint(endpoint string, adapterName string, errs []error) []error {
	if endpoint == "" {
		return append(errs, fmt.Errorf("There's no default endpoint available for %s. Calls to this bidder will fail. "+
			"Please set adapters.%s.endpoint in your app config", adapterName, adapterName))
	}

	endpointTemplate, err := template.New("endpointTemplate").Parse(endpoint)
	if err != nil {
		return append(errs, fmt.Errorf("Invalid endpoint template: %s for adapter: %s. %v", endpoint, adapterName, err))
	}

	for _, secure := range []bool{false, true} {
		resolvedEndpoint, err := macros.ResolveMacros(*endpointTemplate, macros.EndpointTemplateParams{
			Host:        dummyHost,
			PublisherID: dummyPublisherID,
			Secure:      secure,
		})
		if err != nil {
			return append(errs, fmt.Errorf("Unable to resolve endpoint: %s for adapter: %s. %v", endpoint, adapterName, err))
		}
		// IsURL allows relative paths, IsRequestURL allows "http://http://abcd.com".
		if !validator.IsURL(resolvedEndpoint) || !validator.IsRequestURL(resolvedEndpoint) {
			return append(errs, fmt.Errorf("The endpoint: %s for %s is not a valid URL", resolvedEndpoint, adapterName))
		}
	}
	return errs
}
