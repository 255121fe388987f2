package configstore

import (
	"encoding/json"
	"errors"
	"maps"
	"net/url"
	"regexp"
	"strings"
)

const (
	KindHubSpot   = "hubspot"
	KindGA4       = "ga4"
	KindWordPress = "wordpress"
)

const (
	defaultHubSpotAPIBase  = "https://api.hubapi.com"
	defaultGA4AdminAPIBase = "https://analyticsadmin.googleapis.com"
	wordPressAPIPath       = "/wp-json"
)

var ga4PropertyIDPattern = regexp.MustCompile(`^[0-9]+$`)

// OAuthApp holds the client credentials of a registered OAuth2 application.
type OAuthApp struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (a OAuthApp) Normalized() OAuthApp {
	out := a
	out.ClientID = strings.TrimSpace(out.ClientID)
	out.ClientSecret = strings.TrimSpace(out.ClientSecret)
	return out
}

// IsConfigured reports whether both client credentials are present.
func (a OAuthApp) IsConfigured() bool {
	a = a.Normalized()
	return a.ClientID != "" && a.ClientSecret != ""
}

type HubSpotConfig struct {
	PortalID string `json:"portal_id"`
	APIBase  string `json:"api_base"`
}

func (c HubSpotConfig) Normalized() HubSpotConfig {
	out := c
	out.PortalID = strings.TrimSpace(out.PortalID)
	out.APIBase = strings.TrimRight(strings.TrimSpace(out.APIBase), "/")
	if out.APIBase == "" {
		out.APIBase = defaultHubSpotAPIBase
	}
	return out
}

func (c HubSpotConfig) Validate() error {
	c = c.Normalized()
	if err := validateBaseURL(c.APIBase); err != nil {
		return errors.New("HubSpot API base is invalid")
	}
	return nil
}

type GA4Config struct {
	// PropertyID is the numeric GA4 property id; "properties/123" is accepted.
	PropertyID   string `json:"property_id"`
	AdminAPIBase string `json:"admin_api_base"`
}

func (c GA4Config) Normalized() GA4Config {
	out := c
	out.PropertyID = strings.TrimPrefix(strings.TrimSpace(out.PropertyID), "properties/")
	out.AdminAPIBase = strings.TrimRight(strings.TrimSpace(out.AdminAPIBase), "/")
	if out.AdminAPIBase == "" {
		out.AdminAPIBase = defaultGA4AdminAPIBase
	}
	return out
}

func (c GA4Config) Validate() error {
	c = c.Normalized()
	if c.PropertyID != "" && !ga4PropertyIDPattern.MatchString(c.PropertyID) {
		return errors.New("GA4 property id must be numeric")
	}
	if err := validateBaseURL(c.AdminAPIBase); err != nil {
		return errors.New("GA4 admin API base is invalid")
	}
	return nil
}

type WordPressConfig struct {
	SiteURL string `json:"site_url"`
}

func (c WordPressConfig) Normalized() WordPressConfig {
	out := c
	site := strings.TrimSpace(out.SiteURL)
	if site != "" && !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
		site = "https://" + site
	}
	out.SiteURL = strings.TrimRight(site, "/")
	return out
}

// APIBaseURL returns the REST API root of the site.
func (c WordPressConfig) APIBaseURL() string {
	site := c.Normalized().SiteURL
	if site == "" {
		return ""
	}
	return site + wordPressAPIPath
}

func (c WordPressConfig) Validate() error {
	c = c.Normalized()
	if c.SiteURL == "" {
		return errors.New("WordPress site URL is required")
	}
	if err := validateBaseURL(c.SiteURL); err != nil {
		return errors.New("WordPress site URL is invalid")
	}
	return nil
}

// DecodeMap decodes a connection config map into dst.
func DecodeMap(m map[string]any, dst any) error {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return decodeJSON(raw, dst)
}

func EncodeConfig(v any) ([]byte, error) {
	return json.Marshal(v)
}

// EncodeMap encodes a typed config into the map form stored on a connection.
func EncodeMap(v any) (map[string]any, error) {
	raw, err := EncodeConfig(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func MergeHubSpotConfig(existing HubSpotConfig, update HubSpotConfig) HubSpotConfig {
	merged := existing.Normalized()
	update = update.Normalized()
	if update.PortalID != "" {
		merged.PortalID = update.PortalID
	}
	if update.APIBase != "" {
		merged.APIBase = update.APIBase
	}
	return merged
}

func MergeGA4Config(existing GA4Config, update GA4Config) GA4Config {
	merged := existing.Normalized()
	update = update.Normalized()
	if update.PropertyID != "" {
		merged.PropertyID = update.PropertyID
	}
	if update.AdminAPIBase != "" {
		merged.AdminAPIBase = update.AdminAPIBase
	}
	return merged
}

func MergeWordPressConfig(existing WordPressConfig, update WordPressConfig) WordPressConfig {
	merged := existing.Normalized()
	if site := update.Normalized().SiteURL; site != "" {
		merged.SiteURL = site
	}
	return merged
}

// MergeConfig applies a partial config update to the stored config of a
// connection. Known kinds merge field by field; other kinds merge top-level keys.
func MergeConfig(kind string, existing, update map[string]any) (map[string]any, error) {
	switch kind {
	case KindHubSpot:
		var cur, upd HubSpotConfig
		if err := decodePair(existing, update, &cur, &upd); err != nil {
			return nil, err
		}
		return EncodeMap(MergeHubSpotConfig(cur, upd))
	case KindGA4:
		var cur, upd GA4Config
		if err := decodePair(existing, update, &cur, &upd); err != nil {
			return nil, err
		}
		return EncodeMap(MergeGA4Config(cur, upd))
	case KindWordPress:
		var cur, upd WordPressConfig
		if err := decodePair(existing, update, &cur, &upd); err != nil {
			return nil, err
		}
		return EncodeMap(MergeWordPressConfig(cur, upd))
	default:
		out := maps.Clone(existing)
		if out == nil {
			out = make(map[string]any, len(update))
		}
		maps.Copy(out, update)
		return out, nil
	}
}

func decodePair(existing, update map[string]any, cur, upd any) error {
	if err := DecodeMap(existing, cur); err != nil {
		return err
	}
	return DecodeMap(update, upd)
}

func MaskSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	tail := s[len(s)-4:]
	prefix := ""
	if idx := strings.Index(s, "_"); idx > 0 && idx <= 6 {
		prefix = s[:idx+1]
	}
	return prefix + "****" + tail
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return errors.New("base URL must be an absolute http(s) URL")
	}
	return nil
}
