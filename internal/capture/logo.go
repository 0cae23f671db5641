package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// iconSelectors are checked first; the href of the first match wins.
var iconSelectors = []string{
	`link[rel="icon"]`,
	`link[rel="shortcut icon"]`,
	`link[rel="apple-touch-icon"]`,
}

// logoSelectors are checked next; the src of the first match wins.
var logoSelectors = []string{
	`img.logo`,
	`.logo`,
	`#logo`,
	`img[alt*="logo"]`,
	`img[title*="logo"]`,
}

const svgNamespace = "http://www.w3.org/2000/svg"

// FindLogo applies the logo heuristics to a rendered document and returns
// an absolute URL or a data URL. ErrNoLogo is returned when nothing matches.
func FindLogo(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	base := documentBase(doc, pageURL)

	for _, selector := range iconSelectors {
		if ref, ok := firstAttr(doc, selector, "href"); ok {
			return resolve(base, ref), nil
		}
	}
	for _, selector := range logoSelectors {
		if ref, ok := firstAttr(doc, selector, "src"); ok {
			return resolve(base, ref), nil
		}
	}

	svg := doc.Find("svg").First()
	if svg.Length() > 0 {
		if _, ok := svg.Attr("xmlns"); !ok {
			svg.SetAttr("xmlns", svgNamespace)
		}
		markup, err := goquery.OuterHtml(svg)
		if err != nil {
			return "", fmt.Errorf("serialize svg: %w", err)
		}
		return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(markup)), nil
	}
	return "", ErrNoLogo
}

// firstAttr looks only at the first element matching selector.
func firstAttr(doc *goquery.Document, selector, attr string) (string, bool) {
	value, ok := doc.Find(selector).First().Attr(attr)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func documentBase(doc *goquery.Document, pageURL string) *url.URL {
	page, err := url.Parse(pageURL)
	if err != nil {
		page = nil
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	if page == nil {
		return ref
	}
	return page.ResolveReference(ref)
}

func resolve(base *url.URL, ref string) string {
	if base == nil || isDataURL(ref) {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func isDataURL(ref string) bool {
	return len(ref) >= 5 && strings.EqualFold(ref[:5], "data:")
}

// decodeDataURL returns the payload of an RFC 2397 data URL.
func decodeDataURL(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some pages emit unpadded payloads.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, fmt.Errorf("decode data url: %w", err)
			}
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return []byte(data), nil
}
