package fromscratch

import "strings"

// ClassifyUserAgent derives coarse device, browser and OS classes from a
// raw user-agent string via case-insensitive substring matching. The check
// order within each category matters: Chromium-derived Edge and Opera carry
// "chrome" in their user agent, iOS devices claim "like Mac OS X", and
// Android claims "Linux", so the more specific match runs first.
func ClassifyUserAgent(ua string) (device, browser, os string) {
	s := strings.ToLower(ua)

	switch {
	case strings.Contains(s, "ipad"), strings.Contains(s, "tablet"):
		device = DeviceTablet
	case strings.Contains(s, "mobi"), strings.Contains(s, "iphone"):
		device = DeviceMobile
	default:
		device = DeviceDesktop
	}

	switch {
	case strings.Contains(s, "edg"):
		browser = BrowserEdge
	case strings.Contains(s, "opr"), strings.Contains(s, "opera"):
		browser = BrowserOpera
	case strings.Contains(s, "chrome"):
		browser = BrowserChrome
	case strings.Contains(s, "firefox"):
		browser = BrowserFirefox
	case strings.Contains(s, "safari"):
		browser = BrowserSafari
	default:
		browser = BrowserOther
	}

	switch {
	case strings.Contains(s, "windows"):
		os = OSWindows
	case strings.Contains(s, "android"):
		os = OSAndroid
	case strings.Contains(s, "iphone"), strings.Contains(s, "ipad"), strings.Contains(s, "ios"):
		os = OSIOS
	case strings.Contains(s, "mac"):
		os = OSMacOS
	case strings.Contains(s, "linux"):
		os = OSLinux
	default:
		os = OSOther
	}

	return device, browser, os
}
