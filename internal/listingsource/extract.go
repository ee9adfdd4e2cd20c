package listingsource

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tbrandt/adscout/internal/models"
)

// extractSummaries PULLS PER-CARD FIELDS FROM A LIST PAGE, SKIPPING SPONSORED ("TOP") CARDS.
// GROUNDED IN original_source/scrapers/inserate_ultra_optimized.py's _extract_single_ad.
func extractSummaries(doc *goquery.Document) []models.ListingSummary {
	var out []models.ListingSummary

	doc.Find("article.aditem").Each(func(i int, card *goquery.Selection) {
		if card.HasClass("is-topad") || card.Find(".badge-hint-pro-small-srp").Length() > 0 {
			return
		}

		externalID, _ := card.Attr("data-adid")
		if externalID == "" {
			return
		}

		href, _ := card.Find("a.ellipsis").First().Attr("href")
		title := strings.TrimSpace(card.Find("a.ellipsis").First().Text())
		priceText := strings.TrimSpace(card.Find(".aditem-main--middle--price-shipping--price").First().Text())
		description := strings.TrimSpace(card.Find(".aditem-main--middle--description").First().Text())

		image := normalizeImageURL(extractCardImageURL(card))

		out = append(out, models.ListingSummary{
			ExternalID:  externalID,
			URL:         href,
			Title:       title,
			PriceText:   cleanPriceText(priceText),
			Description: description,
			Image:       image,
		})
	})

	return out
}

func extractCardImageURL(card *goquery.Selection) string {
	img := card.Find("img").First()
	for _, attr := range []string{"src", "data-src", "data-imgsrc", "data-img-src"} {
		if v, ok := img.Attr(attr); ok && v != "" {
			return v
		}
	}
	if srcset, ok := img.Attr("srcset"); ok && srcset != "" {
		first := strings.TrimSpace(strings.Split(srcset, ",")[0])
		if fields := strings.Fields(first); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// extractDetail PULLS THE FULL RECORD FROM AN AD'S OWN PAGE.
// STATUS DERIVATION AND TITLE SUFFIX STRIPPING ARE GROUNDED IN
// original_source/scrapers/inserat.py.
func extractDetail(doc *goquery.Document) models.ListingDetail {
	var d models.ListingDetail

	rawTitle := strings.TrimSpace(doc.Find("#viewad-title").First().Text())
	d.Title = stripTitleSuffix(rawTitle)

	d.Status = deriveStatus(doc, rawTitle)

	priceText := strings.TrimSpace(doc.Find("#viewad-price").First().Text())
	d.Price = parsePrice(priceText)

	d.Description = collapseWhitespace(doc.Find("#viewad-description-text").Text())

	doc.Find("#viewad-details .addetailslist--detail").Each(func(i int, sel *goquery.Selection) {
		label := strings.TrimSpace(sel.Find(".addetailslist--detail--label").Text())
		value := strings.TrimSpace(sel.Find(".addetailslist--detail--value").Text())
		if label == "" {
			return
		}
		if d.Details == nil {
			d.Details = map[string]any{}
		}
		d.Details[label] = value
	})

	doc.Find("#viewad-locality").Each(func(i int, sel *goquery.Selection) {
		d.Location.City = strings.TrimSpace(sel.Text())
	})

	doc.Find(".breadcrump-link").Each(func(i int, sel *goquery.Selection) {
		d.Categories = append(d.Categories, strings.TrimSpace(sel.Text()))
	})

	doc.Find("#viewad-cntr-num img, .galleryimage-element img").Each(func(i int, img *goquery.Selection) {
		if u := normalizeImageURL(extractCardImageURL(img.Parent())); u != "" {
			d.Images = append(d.Images, u)
		}
	})
	if u := extractJSONLDImage(doc); u != "" {
		found := false
		for _, existing := range d.Images {
			if existing == u {
				found = true
				break
			}
		}
		if !found {
			d.Images = append(d.Images, u)
		}
	}

	if strings.Contains(doc.Find("#viewad-locality").Text(), "Versand") || doc.Find(".boxedarticle--shipping").Length() > 0 {
		d.Delivery = models.DeliveryShipping
	} else {
		d.Delivery = models.DeliveryPickup
	}

	d.ExtraInfo = map[string]any{}
	if created := strings.TrimSpace(doc.Find("#viewad-extra-info .addetailslist--detail--value").First().Text()); created != "" {
		d.ExtraInfo["created_at"] = created
	}

	return d
}

// stripTitleSuffix REMOVES A TRAILING "• ..." DECORATION FROM A TITLE
func stripTitleSuffix(title string) string {
	if idx := strings.Index(title, "•"); idx >= 0 {
		return strings.TrimSpace(title[:idx])
	}
	return title
}

// deriveStatus DERIVES THE LISTING'S LIFECYCLE STATUS FROM BADGE/CLASS/TITLE TOKENS.
// TOKEN PRECEDENCE MIRRORS original_source/scrapers/inserat.py EXACTLY.
func deriveStatus(doc *goquery.Document, rawTitle string) string {
	switch {
	case strings.Contains(rawTitle, "Verkauft"):
		return models.StatusSold
	case strings.Contains(rawTitle, "Reserviert •"):
		return models.StatusReserved
	case strings.Contains(rawTitle, "Gelöscht •"):
		return models.StatusDeleted
	}
	if doc.Find("body").HasClass("is-sold") || doc.Find("#viewad-title").HasClass("is-sold") {
		return models.StatusSold
	}
	if strings.Contains(doc.Find("#viewad-content").Text(), "wurde bereits verkauft") {
		return models.StatusSold
	}
	return models.StatusActive
}

func parsePrice(raw string) models.Price {
	text := collapseWhitespace(raw)
	negotiable := strings.Contains(text, "VB")

	cleaned := strings.ReplaceAll(text, "€", "")
	cleaned = strings.ReplaceAll(cleaned, "VB", "")
	cleaned = strings.TrimSpace(cleaned)

	amount := models.NormalizeAmount(cleaned)
	return models.Price{
		Amount:     amount,
		Currency:   "EUR",
		Negotiable: negotiable,
		RawText:    text,
	}
}

func cleanPriceText(raw string) string {
	return collapseWhitespace(raw)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeImageURL APPLIES THE PRECEDENCE/REJECTION RULES FROM spec.md §4.B
func normalizeImageURL(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "placeholder") || strings.HasPrefix(raw, "data:image") {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

func extractJSONLDImage(doc *goquery.Document) string {
	var image string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := sel.Text()
		if idx := strings.Index(text, `"contentUrl"`); idx >= 0 {
			rest := text[idx+len(`"contentUrl"`):]
			start := strings.Index(rest, `"`)
			if start < 0 {
				return true
			}
			rest = rest[start+1:]
			end := strings.Index(rest, `"`)
			if end < 0 {
				return true
			}
			image = normalizeImageURL(rest[:end])
			return false
		}
		return true
	})
	return image
}
