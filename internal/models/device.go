package models

// Device classes derived from a User-Agent string.
const (
	DeviceClassDesktop = "desktop"
	DeviceClassMobile  = "mobile"
	DeviceClassTablet  = "tablet"
)

// Fingerprint is a coarse device signature. It intentionally excludes the IP
// address, which is too volatile for novelty detection.
type Fingerprint struct {
	BrowserFamily string
	OSFamily      string
	DeviceClass   string
	IsMobile      bool
}

// Key returns the canonical form stored in known_devices and compared for
// novelty.
func (f Fingerprint) Key() string {
	return f.BrowserFamily + "/" + f.OSFamily + "/" + f.DeviceClass
}
