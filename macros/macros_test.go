package macros

import (
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
)

const validEndpointTemplate = "http://{{.Host}}/publisher/{{.PublisherID}}"

const technoratiEndpointTemplate = "http{{if .Secure}}s://uat-secure{{else}}://uat-net{{end}}.technoratimedia.com/openrtb/bids/{{.PublisherID}}"

func TestResolveMacros(t *testing.T) {
	endpointTemplate, _ := template.New("endpointTemplate").Parse(validEndpointTemplate)
	technoratiTemplate, _ := template.New("endpointTemplate").Parse(technoratiEndpointTemplate)

	testCases := []struct {
		aTemplate template.Template
		params    interface{}
		result    string
		hasError  bool
	}{
		{aTemplate: *endpointTemplate, params: EndpointTemplateParams{Host: "SomeHost", PublisherID: "1"}, result: "http://SomeHost/publisher/1", hasError: false},
		{aTemplate: *endpointTemplate, params: struct{ Consent string }{Consent: "SomeConsent"}, result: "", hasError: true},
		{aTemplate: *technoratiTemplate, params: EndpointTemplateParams{PublisherID: "1234", Secure: true}, result: "https://uat-secure.technoratimedia.com/openrtb/bids/1234", hasError: false},
		{aTemplate: *technoratiTemplate, params: EndpointTemplateParams{PublisherID: "1234"}, result: "http://uat-net.technoratimedia.com/openrtb/bids/1234", hasError: false},
		{aTemplate: *technoratiTemplate, params: EndpointTemplateParams{}, result: "http://uat-net.technoratimedia.com/openrtb/bids/", hasError: false},
	}

	for _, test := range testCases {
		res, err := ResolveMacros(test.aTemplate, test.params)

		if test.hasError {
			assert.NotNil(t, err, "Error shouldn't be nil")
			assert.Empty(t, res, "Result should be empty")
		} else {
			assert.Nil(t, err, "Err should be nil")
			assert.Equal(t, test.result, res, "String after resolving macros should be %s", test.result)
		}
	}
}
