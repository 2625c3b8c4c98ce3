package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sjsage522/emlakworker/logger"
)

// Input is the run input document. JSON input is accepted as well since it
// is valid YAML.
type Input struct {
	StartURLs          []StartURL          `yaml:"startUrls"`
	MaxItems           *int                `yaml:"maxItems"`
	IncludeDetails     *bool               `yaml:"includeDetails"`
	MaxConcurrency     *int                `yaml:"maxConcurrency"`
	ProxyConfiguration *ProxyConfiguration `yaml:"proxyConfiguration"`
	BaseRowAPIToken    string              `yaml:"baseRowApiToken"`
	BaseRowTableID     string              `yaml:"baseRowTableId"`
	BaseRowDatabaseID  string              `yaml:"baseRowDatabaseId"`
}

// ProxyConfiguration selects the egress for the crawl
type ProxyConfiguration struct {
	UseApifyProxy    bool     `yaml:"useApifyProxy"`
	ApifyProxyGroups []string `yaml:"apifyProxyGroups"`
	CountryCode      string   `yaml:"countryCode"`
	ProxyURLs        []string `yaml:"proxyUrls"`
}

// StartURL is a seed given either as a bare string or as {url: ...}. Entries
// of any other shape decode to an empty URL.
type StartURL struct {
	URL string
}

// UnmarshalYAML accepts both seed shapes
func (s *StartURL) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.ShortTag() == "!!str" {
			s.URL = strings.TrimSpace(value.Value)
		}
	case yaml.MappingNode:
		var obj struct {
			URL string `yaml:"url"`
		}
		if err := value.Decode(&obj); err == nil {
			s.URL = strings.TrimSpace(obj.URL)
		}
	}
	return nil
}

// LoadInput reads an input document from path
func LoadInput(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input %s: %w", path, err)
	}
	var in Input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse input %s: %w", path, err)
	}
	return &in, nil
}

// Apply overlays the input onto c. Seeds that are not http(s) URLs are
// dropped with a warning.
func (in *Input) Apply(c *Config) {
	if in.StartURLs != nil {
		c.StartURLs = nil
		for _, s := range in.StartURLs {
			if !strings.HasPrefix(s.URL, "http") {
				logger.Warn("Skipping invalid start URL item %q", s.URL)
				continue
			}
			c.StartURLs = append(c.StartURLs, s.URL)
		}
	}
	if in.MaxItems != nil {
		c.MaxItems = *in.MaxItems
	}
	if in.IncludeDetails != nil {
		c.IncludeDetails = *in.IncludeDetails
	}
	if in.MaxConcurrency != nil {
		c.Concurrency = *in.MaxConcurrency
	}
	if p := in.ProxyConfiguration; p != nil {
		if p.CountryCode != "" {
			c.ProxyCountry = p.CountryCode
		}
		if len(p.ProxyURLs) > 0 {
			c.ProxyURLs = p.ProxyURLs
		}
		if p.UseApifyProxy {
			c.ApifyProxyGroups = p.ApifyProxyGroups
			if len(c.ApifyProxyGroups) == 0 {
				c.ApifyProxyGroups = []string{"RESIDENTIAL"}
			}
		}
	}
	if in.BaseRowAPIToken != "" {
		c.BaserowToken = in.BaseRowAPIToken
	}
	if in.BaseRowTableID != "" {
		c.BaserowTableID = in.BaseRowTableID
	}
	if in.BaseRowDatabaseID != "" {
		c.BaserowDatabaseID = in.BaseRowDatabaseID
	}
}

// ProxyEndpoints returns the configured proxies plus the Apify gateway when
// groups and a password are set
func (c *Config) ProxyEndpoints() []string {
	endpoints := append([]string(nil), c.ProxyURLs...)
	if len(c.ApifyProxyGroups) > 0 && c.ApifyProxyPassword != "" {
		username := "groups-" + strings.Join(c.ApifyProxyGroups, "+")
		if c.ProxyCountry != "" {
			username += ",country-" + c.ProxyCountry
		}
		u := url.URL{
			Scheme: "http",
			User:   url.UserPassword(username, c.ApifyProxyPassword),
			Host:   "proxy.apify.com:8000",
		}
		endpoints = append(endpoints, u.String())
	}
	return endpoints
}
