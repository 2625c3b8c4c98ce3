package crawler

import (
	"time"
)

// Listing is an extracted real-estate listing. Category rows produce a
// partial listing; detail pages fill in the rest.
type Listing struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	Price         *float64          `json:"price"`
	PriceCurrency string            `json:"price_currency,omitempty"`
	PriceRaw      string            `json:"price_raw,omitempty"`
	Location      string            `json:"location,omitempty"`
	Date          string            `json:"date,omitempty"`
	Image         string            `json:"image,omitempty"`
	Images        []string          `json:"images,omitempty"`
	Description   string            `json:"description,omitempty"`
	Seller        string            `json:"seller,omitempty"`
	Info          map[string]string `json:"info,omitempty"`

	Size           string `json:"size,omitempty"`
	Rooms          string `json:"rooms,omitempty"`
	BuildingAge    string `json:"building_age,omitempty"`
	Floor          string `json:"floor,omitempty"`
	TotalFloors    string `json:"total_floors,omitempty"`
	Heating        string `json:"heating,omitempty"`
	Furnished      string `json:"furnished,omitempty"`
	UsageStatus    string `json:"usage_status,omitempty"`
	InSite         string `json:"in_site,omitempty"`
	Dues           string `json:"dues,omitempty"`
	DeedStatus     string `json:"deed_status,omitempty"`
	CreditEligible string `json:"credit_eligible,omitempty"`

	ScrapedAt time.Time `json:"scrapedAt"`
	SourceURL string    `json:"sourceUrl,omitempty"`
}

// Key is the identity used for upserts: the listing id, or the URL when the id is unknown
func (l *Listing) Key() string {
	if l.ID != "" {
		return l.ID
	}
	return l.URL
}

// HasTitle reports whether the listing carries enough to be worth emitting
func (l *Listing) HasTitle() bool {
	return l != nil && l.Title != ""
}

// Clone returns a deep copy
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.Price != nil {
		p := *l.Price
		c.Price = &p
	}
	if l.Images != nil {
		c.Images = append([]string(nil), l.Images...)
	}
	if l.Info != nil {
		c.Info = make(map[string]string, len(l.Info))
		for k, v := range l.Info {
			c.Info[k] = v
		}
	}
	return &c
}

// Merge returns a copy of l with every non-empty field of detail applied on
// top. Fields detail leaves empty survive from l; info maps are unioned.
func (l *Listing) Merge(detail *Listing) *Listing {
	merged := l.Clone()
	if merged == nil {
		merged = &Listing{}
	}
	if detail == nil {
		return merged
	}

	str := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	str(&merged.ID, detail.ID)
	str(&merged.URL, detail.URL)
	str(&merged.Title, detail.Title)
	str(&merged.PriceCurrency, detail.PriceCurrency)
	str(&merged.PriceRaw, detail.PriceRaw)
	str(&merged.Location, detail.Location)
	str(&merged.Date, detail.Date)
	str(&merged.Image, detail.Image)
	str(&merged.Description, detail.Description)
	str(&merged.Seller, detail.Seller)
	str(&merged.Size, detail.Size)
	str(&merged.Rooms, detail.Rooms)
	str(&merged.BuildingAge, detail.BuildingAge)
	str(&merged.Floor, detail.Floor)
	str(&merged.TotalFloors, detail.TotalFloors)
	str(&merged.Heating, detail.Heating)
	str(&merged.Furnished, detail.Furnished)
	str(&merged.UsageStatus, detail.UsageStatus)
	str(&merged.InSite, detail.InSite)
	str(&merged.Dues, detail.Dues)
	str(&merged.DeedStatus, detail.DeedStatus)
	str(&merged.CreditEligible, detail.CreditEligible)
	str(&merged.SourceURL, detail.SourceURL)

	if detail.Price != nil {
		p := *detail.Price
		merged.Price = &p
	}
	if len(detail.Images) > 0 {
		merged.Images = append([]string(nil), detail.Images...)
	}
	if len(detail.Info) > 0 {
		if merged.Info == nil {
			merged.Info = make(map[string]string, len(detail.Info))
		}
		for k, v := range detail.Info {
			merged.Info[k] = v
		}
	}
	if !detail.ScrapedAt.IsZero() {
		merged.ScrapedAt = detail.ScrapedAt
	}
	return merged
}
