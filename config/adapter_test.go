package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAdapterEndpoint(t *testing.T) {
	testCases := []struct {
		description string
		endpoint    string
		expectErr   bool
	}{
		{
			description: "protocol conditional template",
			endpoint:    "http{{if .Secure}}s://uat-secure{{else}}://uat-net{{end}}.technoratimedia.com/openrtb/bids/{{.PublisherID}}",
		},
		{
			description: "host macro",
			endpoint:    "http://{{.Host}}/openrtb/bids/{{.PublisherID}}",
		},
		{
			description: "plain url",
			endpoint:    "https://prod.technoratimedia.com/openrtb/bids",
		},
		{
			description: "empty endpoint",
			endpoint:    "",
			expectErr:   true,
		},
		{
			description: "unparseable template",
			endpoint:    "http://{{.Host}/bids",
			expectErr:   true,
		},
		{
			description: "unknown macro",
			endpoint:    "http://{{.ZoneID}}.technoratimedia.com",
			expectErr:   true,
		},
		{
			description: "relative url",
			endpoint:    "technoratimedia.com/openrtb/bids",
			expectErr:   true,
		},
		{
			description: "only the secure branch is broken",
			endpoint:    "{{if .Secure}}bad-url{{else}}http://uat-net.technoratimedia.com{{end}}",
			expectErr:   true,
		},
	}

	for _, test := range testCases {
		errs := validateAdapterEndpoint(test.endpoint, "technorati", nil)
		if test.expectErr {
			assert.Len(t, errs, 1, test.description)
		} else {
			assert.Empty(t, errs, test.description)
		}
	}
}
