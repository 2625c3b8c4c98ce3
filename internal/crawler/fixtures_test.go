package crawler

import (
	"fmt"
	"strings"
)

// categoryPage renders a results page with rows listings starting at id
// first. An empty next leaves the pagination button disabled.
func categoryPage(first, rows int, price, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="searchResultsTable"><tbody class="searchResultsRowClass">`)
	for i := 0; i < rows; i++ {
		id := first + i
		fmt.Fprintf(&b, `
<tr class="searchResultsItem" data-id="%d">
  <td class="searchResultsLargeThumbnail"><a href="/ilan/emlak-konut-satilik-daire-%d/detay"><img src="https://img.example.net/%d.jpg" /></a></td>
  <td class="searchResultsTitleValue"><a class="classifiedTitle" href="/ilan/emlak-konut-satilik-daire-%d/detay"> Deniz manzaralı 3+1 daire %d </a></td>
  <td class="searchResultsPriceValue"><div><span>%s</span></div></td>
  <td class="searchResultsDateValue"><span>12 Ekim</span><br><span>2026</span></td>
  <td class="searchResultsLocationValue">Kadıköy<br>Moda Mh.</td>
</tr>`, id, id, id, id, id, price)
	}
	b.WriteString(`</tbody></table><div class="pageNavigator">`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="prevNextBut" title="Sonraki" href="%s">Sonraki</a>`, next)
	} else {
		b.WriteString(`<a class="prevNextBut passive" title="Sonraki" href="#">Sonraki</a>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// detailPage renders a listing page for id
func detailPage(id int, price string) string {
	return fmt.Sprintf(`<html><body>
<div class="classifiedDetailTitle"><h1>Deniz manzaralı 3+1 daire %d (detay)</h1></div>
<div class="classifiedInfo">
  <h3>%s <a class="emlak-endeksi">Emlak Endeksi</a></h3>
  <ul class="classifiedInfoList">
    <li><strong>İlan No</strong><span class="classifiedId">%d</span></li>
    <li><strong>m² (Brüt)</strong><span>140</span></li>
    <li><strong>m² (Net)</strong><span>120</span></li>
    <li><strong>Oda Sayısı</strong><span>3+1</span></li>
    <li><strong>Bina Yaşı</strong><span>5-10 arası</span></li>
    <li><strong>Bulunduğu Kat</strong><span>4</span></li>
    <li><strong>Kat Sayısı</strong><span>8</span></li>
    <li><strong>Isınma</strong><span>Kombi (Doğalgaz)</span></li>
    <li><strong>Eşyalı</strong><span>Hayır</span></li>
    <li><strong>Site İçinde</strong><span>Evet</span></li>
    <li><strong>Aidat</strong><span>1.500 TL</span></li>
    <li><strong>Krediye Uygun</strong><span>Evet</span></li>
  </ul>
</div>
<div class="classifiedDetailMainPhoto"><img src="https://img.example.net/%d-1.jpg" /></div>
<div class="swiper-slide"><img data-src="https://img.example.net/%d-2.jpg" /></div>
<div class="swiper-slide"><img src="https://img.example.net/%d-1.jpg" /></div>
<div id="classifiedDescription">
  Metroya yürüme   mesafesinde,
  bakımlı daire.
</div>
<div class="classifiedUserContent"><h5> Moda Emlak </h5></div>
</body></html>`, id, price, id, id, id, id)
}
