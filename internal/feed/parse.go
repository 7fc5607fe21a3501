package feed

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// columnMap maps the canonical product fields to column indexes in a feed.
type columnMap struct {
	id           int
	name         int
	url          int
	manufacturer int
	variant      int
	price        int
	currency     int
}

// aliases for each canonical column, matched against normalized header names.
var headerAliases = map[string][]string{
	"id":           {"id", "product_id", "sku"},
	"name":         {"name", "title", "product_name"},
	"url":          {"url", "link", "product_url"},
	"manufacturer": {"manufacturer", "brand", "maker"},
	"variant":      {"variant", "model", "option"},
	"price":        {"price", "current_price", "list_price"},
	"currency":     {"currency", "currency_code"},
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// mapHeader resolves the feed header row to column positions. Name and url
// columns are required, everything else is optional.
func mapHeader(header []string) (*columnMap, error) {
	cm := &columnMap{id: -1, name: -1, url: -1, manufacturer: -1, variant: -1, price: -1, currency: -1}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[normalizeHeader(h)] = i
	}

	assign := func(field string, dst *int) {
		for _, alias := range headerAliases[field] {
			if i, ok := index[alias]; ok {
				*dst = i
				return
			}
		}
	}

	assign("id", &cm.id)
	assign("name", &cm.name)
	assign("url", &cm.url)
	assign("manufacturer", &cm.manufacturer)
	assign("variant", &cm.variant)
	assign("price", &cm.price)
	assign("currency", &cm.currency)

	if cm.name == -1 || cm.url == -1 {
		return nil, eris.Errorf("feed: header is missing required name/url columns: %v", header)
	}
	return cm, nil
}

func (cm *columnMap) field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// product converts one feed row to a Product. Rows without a name or url
// are rejected; a malformed price is rejected rather than silently zeroed.
func (cm *columnMap) product(row []string) (model.Product, error) {
	p := model.Product{
		ID:           cm.field(row, cm.id),
		Name:         cm.field(row, cm.name),
		URL:          cm.field(row, cm.url),
		Manufacturer: cm.field(row, cm.manufacturer),
		Variant:      cm.field(row, cm.variant),
		Currency:     cm.field(row, cm.currency),
	}
	if p.Name == "" || p.URL == "" {
		return model.Product{}, eris.New("feed: row has empty name or url")
	}

	if raw := cm.field(row, cm.price); raw != "" {
		price, err := parsePrice(raw)
		if err != nil {
			return model.Product{}, err
		}
		p.CurrentPrice = price
	}

	return p, nil
}

// parsePrice accepts plain decimals as well as lightly formatted values such
// as "$1,299.99" or "1 299,99 EUR".
func parsePrice(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, raw)

	// European decimal comma: no dot present and exactly one comma.
	if !strings.Contains(cleaned, ".") && strings.Count(cleaned, ",") == 1 {
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "feed: parse price %q", raw)
	}
	if price < 0 {
		return 0, eris.Errorf("feed: negative price %q", raw)
	}
	return price, nil
}
