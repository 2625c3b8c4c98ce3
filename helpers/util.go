package helpers

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	listingIDRegex  = regexp.MustCompile(`/(\d{8,12})`)
	priceCharsRegex = regexp.MustCompile(`[^\d,.]`)
	nonDigitRegex   = regexp.MustCompile(`\D`)
)

// NormalizeText collapses whitespace runs into single spaces and trims the result
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// FormatPrice parses a Turkish formatted price such as "1.250.000,50 TL".
// Dots are thousands separators and a comma marks the decimals. It returns
// nil when nothing numeric can be recovered.
func FormatPrice(priceText string) *float64 {
	if priceText == "" {
		return nil
	}

	cleaned := priceCharsRegex.ReplaceAllString(priceText, "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return nil
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price < 0 {
		return nil
	}
	return &price
}

// ExtractCurrency detects the currency code of a price text, defaulting to TL
func ExtractCurrency(priceText string) string {
	upper := strings.ToUpper(priceText)
	switch {
	case strings.Contains(upper, "EUR") || strings.Contains(priceText, "€"):
		return "EUR"
	case strings.Contains(upper, "USD") || strings.Contains(priceText, "$"):
		return "USD"
	case strings.Contains(upper, "GBP") || strings.Contains(priceText, "£"):
		return "GBP"
	default:
		return "TL"
	}
}

// ExtractListingID returns the 8 to 12 digit listing id embedded in a URL path
func ExtractListingID(rawURL string) string {
	match := listingIDRegex.FindStringSubmatch(rawURL)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

// DigitsOnly strips everything except digits
func DigitsOnly(text string) string {
	return nonDigitRegex.ReplaceAllString(text, "")
}

// ResolveURL resolves href against base. It returns "" when either is unusable.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || href == "#" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// Unique drops empty and repeated values while keeping the first occurrence order
func Unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// IsHTTPURL reports whether raw is an absolute http(s) URL
func IsHTTPURL(raw string) bool {
	if !strings.HasPrefix(raw, "http") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// HostOf returns the host part of a URL, or the input when it does not parse
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
