package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		input string
		want  *float64
	}{
		{"150.000 TL", ptr(150000)},
		{"1.250.000,50 TL", ptr(1250000.5)},
		{"€ 2.000", ptr(2000)},
		{"  3.450.000  ", ptr(3450000)},
		{"Fiyat sorunuz", nil},
		{"", nil},
		{",", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := FormatPrice(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestExtractCurrency(t *testing.T) {
	assert.Equal(t, "TL", ExtractCurrency("150.000 TL"))
	assert.Equal(t, "EUR", ExtractCurrency("250.000 EUR"))
	assert.Equal(t, "EUR", ExtractCurrency("€250.000"))
	assert.Equal(t, "USD", ExtractCurrency("$ 99"))
	assert.Equal(t, "GBP", ExtractCurrency("£10"))
	assert.Equal(t, "TL", ExtractCurrency(""))
}

func TestExtractListingID(t *testing.T) {
	assert.Equal(t, "1234567890", ExtractListingID("https://www.sahibinden.com/ilan/emlak-konut-satilik-daire/1234567890/detay"))
	assert.Equal(t, "", ExtractListingID("https://www.sahibinden.com/satilik-daire/istanbul"))
	assert.Equal(t, "", ExtractListingID("https://example.com/1234567"))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Kadıköy / Moda", NormalizeText("  Kadıköy \n\t /   Moda "))
	assert.Equal(t, "", NormalizeText(" \n "))
}

func TestResolveURL(t *testing.T) {
	base := "https://www.sahibinden.com/satilik-daire/istanbul?pagingOffset=0"
	assert.Equal(t, "https://www.sahibinden.com/ilan/123456789/detay", ResolveURL(base, "/ilan/123456789/detay"))
	assert.Equal(t, "https://www.sahibinden.com/satilik-daire/istanbul?pagingOffset=20", ResolveURL(base, "?pagingOffset=20"))
	assert.Equal(t, "", ResolveURL(base, "javascript:void(0)"))
	assert.Equal(t, "", ResolveURL(base, ""))
}

func TestUniqueAndDigits(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Unique([]string{"a", "", "b", "a"}))
	assert.Equal(t, "123456789", DigitsOnly("İlan No: 123456789"))
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://www.sahibinden.com/satilik"))
	assert.True(t, IsHTTPURL("http://localhost:8080/x"))
	assert.False(t, IsHTTPURL("ftp://example.com"))
	assert.False(t, IsHTTPURL("www.example.com"))
	assert.False(t, IsHTTPURL("https://"))
	assert.Equal(t, "example.com:8080", HostOf("http://example.com:8080/a"))
}

func ptr(f float64) *float64 {
	return &f
}
