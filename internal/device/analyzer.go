// Package device derives coarse device signatures from request metadata.
// Extraction is a pure function: no I/O, deterministic for a given
// User-Agent string.
package device

import (
	"strings"

	"github.com/mssola/useragent"
	"github.com/orbitcart/gatekeeper/internal/models"
)

const familyUnknown = "unknown"

// browserFallbacks are checked in priority order when the parser cannot
// identify the browser. Order matters: Chrome UAs contain "Safari", Edge UAs
// contain "Chrome".
var browserFallbacks = []struct {
	needle string
	family string
}{
	{"Firefox", "firefox"},
	{"Edg", "edge"},
	{"Chrome", "chrome"},
	{"Safari", "safari"},
	{"Opera", "opera"},
	{"OPR", "opera"},
}

var osFallbacks = []struct {
	needle string
	family string
}{
	{"Windows", "windows"},
	{"Mac OS X", "macos"},
	{"Macintosh", "macos"},
	{"Linux", "linux"},
	{"Android", "android"},
	{"iPhone", "ios"},
	{"iPad", "ios"},
	{"iOS", "ios"},
}

// Extract derives a coarse fingerprint from a User-Agent string.
func Extract(userAgentString string) models.Fingerprint {
	fp := models.Fingerprint{
		BrowserFamily: familyUnknown,
		OSFamily:      familyUnknown,
		DeviceClass:   models.DeviceClassDesktop,
	}
	if userAgentString == "" {
		return fp
	}

	ua := useragent.New(userAgentString)

	if name, _ := ua.Browser(); name != "" {
		fp.BrowserFamily = normalizeBrowser(name)
	}
	if fp.BrowserFamily == familyUnknown {
		for _, fb := range browserFallbacks {
			if strings.Contains(userAgentString, fb.needle) {
				fp.BrowserFamily = fb.family
				break
			}
		}
	}

	fp.OSFamily = normalizeOS(ua.OS())
	if fp.OSFamily == familyUnknown {
		for _, fb := range osFallbacks {
			if strings.Contains(userAgentString, fb.needle) {
				fp.OSFamily = fb.family
				break
			}
		}
	}

	fp.IsMobile = ua.Mobile() || strings.Contains(userAgentString, "Mobi")
	if fp.IsMobile {
		fp.DeviceClass = models.DeviceClassMobile
	}
	// Tablet override comes last: iPads and Android tablets report mobile
	// markers but are a distinct class.
	if isTablet(userAgentString) {
		fp.DeviceClass = models.DeviceClassTablet
	}

	return fp
}

func normalizeBrowser(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "firefox":
		return "firefox"
	case "edge", "edg":
		return "edge"
	case "chrome", "chromium":
		return "chrome"
	case "safari":
		return "safari"
	case "opera", "opr":
		return "opera"
	case "":
		return familyUnknown
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

func normalizeOS(os string) string {
	switch {
	case os == "":
		return familyUnknown
	case strings.Contains(os, "Windows"):
		return "windows"
	case strings.Contains(os, "iPhone"), strings.Contains(os, "iPad"), strings.Contains(os, "iOS"):
		return "ios"
	case strings.Contains(os, "Mac OS X"), strings.Contains(os, "OS X"), strings.Contains(os, "macOS"):
		return "macos"
	case strings.Contains(os, "Android"):
		return "android"
	case strings.Contains(os, "Linux"), strings.Contains(os, "Ubuntu"):
		return "linux"
	default:
		return strings.ToLower(strings.TrimSpace(os))
	}
}

func isTablet(userAgentString string) bool {
	if strings.Contains(userAgentString, "iPad") || strings.Contains(userAgentString, "Tablet") {
		return true
	}
	// Android tablets carry "Android" without the "Mobile" token.
	if strings.Contains(userAgentString, "Android") && !strings.Contains(userAgentString, "Mobile") {
		return true
	}
	return false
}
