package analytics

// AccessEvent is one redirect captured at request time. Text fields default
// to "" and numeric fields to 0 when an attribute could not be derived; the
// codec preserves those defaults on the wire, so a missing value and an
// explicitly empty one are indistinguishable after a round trip.
type AccessEvent struct {
	Slug        string
	URL         string
	UserAgent   string
	IP          string
	Referer     string
	Country     string
	Region      string
	City        string
	Timezone    string
	Language    string
	OS          string
	Browser     string
	BrowserType string
	Device      string
	DeviceType  string
	Colo        string

	Latitude  float64
	Longitude float64
}

// textField returns a pointer to the struct field backing a text column, or
// nil when the logical name has no field. Keeping this switch exhaustive
// against the registry is checked by NewCodec.
func (e *AccessEvent) textField(name string) *string {
	switch name {
	case ColSlug:
		return &e.Slug
	case ColURL:
		return &e.URL
	case ColUserAgent:
		return &e.UserAgent
	case ColIP:
		return &e.IP
	case ColReferer:
		return &e.Referer
	case ColCountry:
		return &e.Country
	case ColRegion:
		return &e.Region
	case ColCity:
		return &e.City
	case ColTimezone:
		return &e.Timezone
	case ColLanguage:
		return &e.Language
	case ColOS:
		return &e.OS
	case ColBrowser:
		return &e.Browser
	case ColBrowserType:
		return &e.BrowserType
	case ColDevice:
		return &e.Device
	case ColDeviceType:
		return &e.DeviceType
	case ColColo:
		return &e.Colo
	}
	return nil
}

// numberField is the numeric counterpart of textField.
func (e *AccessEvent) numberField(name string) *float64 {
	switch name {
	case ColLatitude:
		return &e.Latitude
	case ColLongitude:
		return &e.Longitude
	}
	return nil
}
