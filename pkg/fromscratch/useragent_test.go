package fromscratch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
		os      string
	}{
		{
			name:    "chrome on windows desktop",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:  DeviceDesktop,
			browser: BrowserChrome,
			os:      OSWindows,
		},
		{
			name:    "edge wins over chrome token",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			device:  DeviceDesktop,
			browser: BrowserEdge,
			os:      OSWindows,
		},
		{
			name:    "opera wins over chrome token",
			ua:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0",
			device:  DeviceDesktop,
			browser: BrowserOpera,
			os:      OSLinux,
		},
		{
			name:    "safari on iphone",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			device:  DeviceMobile,
			browser: BrowserSafari,
			os:      OSIOS,
		},
		{
			name:    "ipad is a tablet on ios",
			ua:      "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			device:  DeviceTablet,
			browser: BrowserSafari,
			os:      OSIOS,
		},
		{
			name:    "android claims linux but classifies android",
			ua:      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			device:  DeviceMobile,
			browser: BrowserChrome,
			os:      OSAndroid,
		},
		{
			name:    "firefox on macos",
			ua:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) Gecko/20100101 Firefox/120.0",
			device:  DeviceDesktop,
			browser: BrowserFirefox,
			os:      OSMacOS,
		},
		{
			name:    "safari on macos",
			ua:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
			device:  DeviceDesktop,
			browser: BrowserSafari,
			os:      OSMacOS,
		},
		{
			name:    "unknown agent",
			ua:      "curl/8.4.0",
			device:  DeviceDesktop,
			browser: BrowserOther,
			os:      OSOther,
		},
		{
			name:    "empty agent",
			ua:      "",
			device:  DeviceDesktop,
			browser: BrowserOther,
			os:      OSOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, browser, os := ClassifyUserAgent(tt.ua)
			assert.Equal(t, tt.device, device)
			assert.Equal(t, tt.browser, browser)
			assert.Equal(t, tt.os, os)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Building a Blog, From Scratch!", "building-a-blog-from-scratch"},
		{"  Spaces   everywhere  ", "spaces-everywhere"},
		{"already-a-slug", "already-a-slug"},
		{"Ünïcode & symbols?", "n-code-symbols"},
		{"123 Numbers", "123-numbers"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}
