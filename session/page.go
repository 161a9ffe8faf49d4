package session

import (
	"net/url"

	"mabletask/tracker/identity"
	"mabletask/tracker/models"
)

const defaultCurrency = "GBP"

// Page is what the host knows about the current page load.
type Page struct {
	URL          string
	Referrer     string
	UserAgent    string
	Platform     string
	ScreenWidth  int
	ScreenHeight int
	ProductTags  []string
	Collection   string
	Currency     string
	Language     string
}

// Path is the URL path, "/" when the URL has none or does not parse.
func (p Page) Path() string {
	u, err := url.Parse(p.URL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (p Page) traffic() models.TrafficInfo {
	t := models.TrafficInfo{Referrer: p.Referrer}
	u, err := url.Parse(p.URL)
	if err != nil {
		return t
	}
	q := u.Query()
	t.UTMSource = q.Get("utm_source")
	t.UTMMedium = q.Get("utm_medium")
	t.UTMCampaign = q.Get("utm_campaign")
	t.UTMTerm = q.Get("utm_term")
	return t
}

func (p Page) device() models.DeviceInfo {
	return models.DeviceInfo{
		DeviceType:   models.DeviceTypeFor(p.UserAgent),
		OS:           p.Platform,
		Browser:      p.UserAgent,
		ScreenWidth:  p.ScreenWidth,
		ScreenHeight: p.ScreenHeight,
	}
}

// sessionContext is captured once at session start. Cart status is unknown
// until the first cart poll.
func sessionContext(p Page, prev identity.Continuity) models.SessionContext {
	currency := p.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return models.SessionContext{
		Traffic: p.traffic(),
		Device:  p.device(),
		Storefront: models.StorefrontInfo{
			PagePath:         p.Path(),
			ProductTags:      p.ProductTags,
			CollectionViewed: p.Collection,
			Currency:         currency,
			Language:         p.Language,
		},
		History: models.HistoryInfo{
			IsReturning:            prev.IsReturning(),
			LastSeen:               prev.LastSeen,
			PagesViewedLastSession: prev.LastPages,
			LastSessionCartStatus:  prev.LastCartStatus,
		},
	}
}
