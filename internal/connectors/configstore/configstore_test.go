package configstore

import "testing"

func TestWordPressConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  WordPressConfig
		wantErr bool
	}{
		{name: "bare host", config: WordPressConfig{SiteURL: "blog.example.com"}},
		{name: "https url", config: WordPressConfig{SiteURL: "https://blog.example.com/"}},
		{name: "missing site", config: WordPressConfig{}, wantErr: true},
		{name: "blank site", config: WordPressConfig{SiteURL: "   "}, wantErr: true},
		{name: "no host", config: WordPressConfig{SiteURL: "https://"}, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := test.config.Validate()
			if test.wantErr && err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			if !test.wantErr && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestWordPressAPIBaseURL(t *testing.T) {
	t.Parallel()

	cfg := WordPressConfig{SiteURL: " blog.example.com/ "}
	if got, want := cfg.APIBaseURL(), "https://blog.example.com/wp-json"; got != want {
		t.Fatalf("APIBaseURL()=%q want %q", got, want)
	}
	if got := (WordPressConfig{}).APIBaseURL(); got != "" {
		t.Fatalf("APIBaseURL() empty site=%q want empty", got)
	}
}

func TestGA4ConfigNormalized(t *testing.T) {
	t.Parallel()

	cfg := GA4Config{PropertyID: " properties/123456 "}.Normalized()
	if cfg.PropertyID != "123456" {
		t.Fatalf("PropertyID=%q want 123456", cfg.PropertyID)
	}
	if cfg.AdminAPIBase != defaultGA4AdminAPIBase {
		t.Fatalf("AdminAPIBase=%q want default", cfg.AdminAPIBase)
	}
	if err := (GA4Config{PropertyID: "abc"}).Validate(); err == nil {
		t.Fatalf("Validate() non-numeric property error=nil want error")
	}
	if err := (GA4Config{}).Validate(); err != nil {
		t.Fatalf("Validate() empty error=%v want nil", err)
	}
}

func TestMergeHubSpotConfig(t *testing.T) {
	t.Parallel()

	existing := HubSpotConfig{PortalID: "42", APIBase: "https://hub.example.test/"}
	merged := MergeHubSpotConfig(existing, HubSpotConfig{})
	if merged.PortalID != "42" || merged.APIBase != "https://hub.example.test" {
		t.Fatalf("MergeHubSpotConfig() empty update=%+v", merged)
	}

	merged = MergeHubSpotConfig(existing, HubSpotConfig{PortalID: " 43 "})
	if merged.PortalID != "43" {
		t.Fatalf("PortalID=%q want 43", merged.PortalID)
	}
}

func TestDecodeMapRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := EncodeMap(GA4Config{PropertyID: "99"})
	if err != nil {
		t.Fatalf("EncodeMap() error = %v", err)
	}
	if m["property_id"] != "99" {
		t.Fatalf("EncodeMap()=%v", m)
	}

	var cfg GA4Config
	if err := DecodeMap(map[string]any{"property_id": "properties/7", "unknown": true}, &cfg); err != nil {
		t.Fatalf("DecodeMap() error = %v", err)
	}
	if got := cfg.Normalized().PropertyID; got != "7" {
		t.Fatalf("PropertyID=%q want 7", got)
	}

	var empty HubSpotConfig
	if err := DecodeMap(nil, &empty); err != nil {
		t.Fatalf("DecodeMap(nil) error = %v", err)
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                "",
		"abc":             "****",
		"pat_1234567890":  "pat_****7890",
		"averylongsecret": "****cret",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Fatalf("MaskSecret(%q)=%q want %q", in, got, want)
		}
	}
}

func TestOAuthAppIsConfigured(t *testing.T) {
	t.Parallel()

	if (OAuthApp{ClientID: "id"}).IsConfigured() {
		t.Fatalf("IsConfigured() without secret=true want false")
	}
	if !(OAuthApp{ClientID: " id ", ClientSecret: "secret"}).IsConfigured() {
		t.Fatalf("IsConfigured()=false want true")
	}
}

func TestMergeConfig(t *testing.T) {
	t.Parallel()

	merged, err := MergeConfig(KindGA4,
		map[string]any{"property_id": "99", "admin_api_base": "https://admin.example.test"},
		map[string]any{"property_id": "properties/100"},
	)
	if err != nil {
		t.Fatalf("MergeConfig(ga4) error = %v", err)
	}
	if merged["property_id"] != "100" || merged["admin_api_base"] != "https://admin.example.test" {
		t.Fatalf("MergeConfig(ga4)=%v", merged)
	}

	merged, err = MergeConfig(KindWordPress, map[string]any{"site_url": "https://a.example"}, map[string]any{})
	if err != nil {
		t.Fatalf("MergeConfig(wordpress) error = %v", err)
	}
	if merged["site_url"] != "https://a.example" {
		t.Fatalf("MergeConfig(wordpress)=%v", merged)
	}

	merged, err = MergeConfig("custom", map[string]any{"a": 1.0, "b": "x"}, map[string]any{"b": "y"})
	if err != nil {
		t.Fatalf("MergeConfig(custom) error = %v", err)
	}
	if merged["a"] != 1.0 || merged["b"] != "y" {
		t.Fatalf("MergeConfig(custom)=%v", merged)
	}

	if _, err := MergeConfig(KindHubSpot, nil, map[string]any{"portal_id": 42}); err == nil {
		t.Fatalf("MergeConfig(hubspot, numeric portal) error=nil want decode error")
	}
}
