package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/emlakworker/helpers"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// Selectors configures where the parser finds each field
type Selectors struct {
	// Rows are tried in order until one matches
	Rows []string

	Title         string
	TitleFallback string
	Price         string
	Date          string
	Location      string
	Image         string
	NextPage      string

	DetailTitle string
	DetailPrice string
	Description string
	InfoItems   string
	InfoLabel   string
	InfoValue   string
	Images      string
	Seller      string
	ListingID   string
}

// DefaultSelectors returns the sahibinden.com markup
func DefaultSelectors() Selectors {
	return Selectors{
		Rows: []string{
			"tbody.searchResultsRowClass > tr.searchResultsItem",
			"tr.searchResultsItem",
			"table#searchResultsTable tr[data-id]",
		},
		Title:         "td.searchResultsTitleValue a.classifiedTitle",
		TitleFallback: "a.classifiedTitle",
		Price:         "td.searchResultsPriceValue span",
		Date:          "td.searchResultsDateValue",
		Location:      "td.searchResultsLocationValue",
		Image:         "img",
		NextPage:      `a.prevNextBut[title="Sonraki"]:not(.passive)`,

		DetailTitle: ".classifiedDetailTitle h1",
		DetailPrice: ".classifiedInfo > h3",
		Description: "#classifiedDescription",
		InfoItems:   ".classifiedInfoList li",
		InfoLabel:   "strong",
		InfoValue:   "span",
		Images:      ".classifiedDetailMainPhoto img, .swiper-slide img, #classifiedDetailPhotos img",
		Seller:      ".classifiedUserContent h5, .classifiedOtherBoxes .username-info-area",
		ListingID:   ".classifiedId",
	}
}

// infoFields maps site labels onto the normalized listing fields. The first
// label present wins.
var infoFields = []struct {
	labels []string
	set    func(l *Listing, v string)
}{
	{[]string{"Brüt / Net M2", "m² (Brüt)", "m² (Net)"}, func(l *Listing, v string) { l.Size = v }},
	{[]string{"Oda Sayısı"}, func(l *Listing, v string) { l.Rooms = v }},
	{[]string{"Bina Yaşı"}, func(l *Listing, v string) { l.BuildingAge = v }},
	{[]string{"Bulunduğu Kat"}, func(l *Listing, v string) { l.Floor = v }},
	{[]string{"Kat Sayısı"}, func(l *Listing, v string) { l.TotalFloors = v }},
	{[]string{"Isınma"}, func(l *Listing, v string) { l.Heating = v }},
	{[]string{"Eşyalı"}, func(l *Listing, v string) { l.Furnished = v }},
	{[]string{"Kullanım Durumu"}, func(l *Listing, v string) { l.UsageStatus = v }},
	{[]string{"Site İçinde"}, func(l *Listing, v string) { l.InSite = v }},
	{[]string{"Aidat"}, func(l *Listing, v string) { l.Dues = v }},
	{[]string{"Tapu Durumu"}, func(l *Listing, v string) { l.DeedStatus = v }},
	{[]string{"Krediye Uygun"}, func(l *Listing, v string) { l.CreditEligible = v }},
}

// SahibindenParser extracts listings from sahibinden.com pages
type SahibindenParser struct {
	Selectors Selectors
}

// NewSahibindenParser creates a parser using sel
func NewSahibindenParser(sel Selectors) *SahibindenParser {
	return &SahibindenParser{Selectors: sel}
}

// Rows returns the listing rows using the first row strategy that matches
func (p *SahibindenParser) Rows(doc *goquery.Document) ([]*goquery.Selection, error) {
	for _, selector := range p.Selectors.Rows {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		rows := make([]*goquery.Selection, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			rows = append(rows, s)
		})
		return rows, nil
	}
	var pageURL string
	if doc.Url != nil {
		pageURL = doc.Url.String()
	}
	return nil, crawlerrors.NewParsing(pageURL, "no listing rows matched any selector", nil)
}

// ParseRow extracts the partial listing of one results row
func (p *SahibindenParser) ParseRow(row *goquery.Selection, pageURL string) (*Listing, error) {
	titleSel := row.Find(p.Selectors.Title).First()
	if titleSel.Length() == 0 && p.Selectors.TitleFallback != "" {
		titleSel = row.Find(p.Selectors.TitleFallback).First()
	}
	if titleSel.Length() == 0 {
		return nil, nil
	}

	title := helpers.NormalizeText(titleSel.Text())
	if title == "" {
		if attr, ok := titleSel.Attr("title"); ok {
			title = helpers.NormalizeText(attr)
		}
	}
	href, _ := titleSel.Attr("href")
	link := helpers.ResolveURL(pageURL, href)
	if title == "" || link == "" {
		return nil, nil
	}

	priceText := strings.TrimSpace(row.Find(p.Selectors.Price).First().Text())

	listing := &Listing{
		ID:       helpers.ExtractListingID(link),
		URL:      link,
		Title:    title,
		PriceRaw: priceText,
		Location: joinLines(row.Find(p.Selectors.Location).First(), " / "),
		Date:     joinLines(row.Find(p.Selectors.Date).First(), " "),
		Image:    imageSource(row.Find(p.Selectors.Image).First(), pageURL),
	}
	if priceText != "" {
		listing.Price = helpers.FormatPrice(priceText)
		listing.PriceCurrency = helpers.ExtractCurrency(priceText)
	}
	if id, ok := row.Attr("data-id"); ok && listing.ID == "" {
		listing.ID = helpers.DigitsOnly(id)
	}
	return listing, nil
}

// NextPage returns the enabled "next" pagination link
func (p *SahibindenParser) NextPage(doc *goquery.Document, pageURL string) (string, bool) {
	href, ok := doc.Find(p.Selectors.NextPage).First().Attr("href")
	if !ok {
		return "", false
	}
	next := helpers.ResolveURL(pageURL, href)
	return next, next != ""
}

// ParseDetail extracts the fields of a listing page
func (p *SahibindenParser) ParseDetail(doc *goquery.Document, pageURL string) (*Listing, error) {
	desc := doc.Find(p.Selectors.Description)
	infoItems := doc.Find(p.Selectors.InfoItems)
	idSel := doc.Find(p.Selectors.ListingID)
	if desc.Length() == 0 && infoItems.Length() == 0 && idSel.Length() == 0 {
		return nil, crawlerrors.NewParsing(pageURL, "not a listing page", nil)
	}

	listing := &Listing{
		ID:          helpers.DigitsOnly(idSel.First().Text()),
		Title:       helpers.NormalizeText(doc.Find(p.Selectors.DetailTitle).First().Text()),
		Description: helpers.NormalizeText(desc.First().Text()),
		Seller:      helpers.NormalizeText(doc.Find(p.Selectors.Seller).First().Text()),
	}

	if priceText := strings.TrimSpace(firstOwnText(doc.Find(p.Selectors.DetailPrice).First())); priceText != "" {
		listing.PriceRaw = priceText
		listing.Price = helpers.FormatPrice(priceText)
		listing.PriceCurrency = helpers.ExtractCurrency(priceText)
	}

	info := make(map[string]string)
	infoItems.Each(func(_ int, item *goquery.Selection) {
		label := helpers.NormalizeText(item.Find(p.Selectors.InfoLabel).First().Text())
		value := helpers.NormalizeText(item.Find(p.Selectors.InfoValue).First().Text())
		if label != "" && value != "" {
			info[label] = value
		}
	})
	if len(info) > 0 {
		listing.Info = info
		applyInfoFields(listing, info)
	}

	var images []string
	doc.Find(p.Selectors.Images).Each(func(_ int, img *goquery.Selection) {
		images = append(images, imageSource(img, pageURL))
	})
	if images = helpers.Unique(images); len(images) > 0 {
		listing.Images = images
	}

	return listing, nil
}

func applyInfoFields(l *Listing, info map[string]string) {
	for _, f := range infoFields {
		for _, label := range f.labels {
			if v := info[label]; v != "" {
				f.set(l, v)
				break
			}
		}
	}
}

// joinLines normalizes each text node of sel and joins them with sep
func joinLines(sel *goquery.Selection, sep string) string {
	if sel.Length() == 0 {
		return ""
	}
	var parts []string
	for _, line := range strings.Split(textWithBreaks(sel), "\n") {
		if line = helpers.NormalizeText(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, sep)
}

// textWithBreaks renders sel's text with <br> and text node boundaries as newlines
func textWithBreaks(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "br" {
			b.WriteString("\n")
			return
		}
		b.WriteString(c.Text())
		b.WriteString("\n")
	})
	return b.String()
}

// firstOwnText is the element's text without its child elements
func firstOwnText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	own := sel.Clone()
	own.Children().Remove()
	if text := strings.TrimSpace(own.Text()); text != "" {
		return text
	}
	return sel.Text()
}

func imageSource(img *goquery.Selection, pageURL string) string {
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return helpers.ResolveURL(pageURL, v)
		}
	}
	return ""
}
