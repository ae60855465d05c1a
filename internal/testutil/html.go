package testutil

import (
	"fmt"
	"strings"
)

// ProductPage builds a product HTML page for extractor tests.
type ProductPage struct {
	title       string
	description string
	canonical   string
	ogImage     string
	h1          string
	price       string
	sku         string
	images      []string
	links       []string
	body        string
}

// NewProductPage creates a new product page builder.
func NewProductPage() *ProductPage {
	return &ProductPage{}
}

func (b *ProductPage) Title(title string) *ProductPage {
	b.title = title
	return b
}

func (b *ProductPage) Description(desc string) *ProductPage {
	b.description = desc
	return b
}

func (b *ProductPage) Canonical(url string) *ProductPage {
	b.canonical = url
	return b
}

func (b *ProductPage) OGImage(url string) *ProductPage {
	b.ogImage = url
	return b
}

func (b *ProductPage) H1(text string) *ProductPage {
	b.h1 = text
	return b
}

// Price sets the visible price and its itemprop content attribute.
func (b *ProductPage) Price(price string) *ProductPage {
	b.price = price
	return b
}

func (b *ProductPage) SKU(sku string) *ProductPage {
	b.sku = sku
	return b
}

// Img adds a gallery image.
func (b *ProductPage) Img(src string) *ProductPage {
	b.images = append(b.images, src)
	return b
}

func (b *ProductPage) Link(href string) *ProductPage {
	b.links = append(b.links, href)
	return b
}

// Body appends raw HTML to the body.
func (b *ProductPage) Body(content string) *ProductPage {
	b.body = content
	return b
}

// Build generates the HTML.
func (b *ProductPage) Build() string {
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	if b.title != "" {
		sb.WriteString(fmt.Sprintf("  <title>%s</title>\n", b.title))
	}
	if b.description != "" {
		sb.WriteString(fmt.Sprintf("  <meta name=\"description\" content=\"%s\">\n", b.description))
	}
	if b.canonical != "" {
		sb.WriteString(fmt.Sprintf("  <link rel=\"canonical\" href=\"%s\">\n", b.canonical))
	}
	if b.ogImage != "" {
		sb.WriteString(fmt.Sprintf("  <meta property=\"og:image\" content=\"%s\">\n", b.ogImage))
	}
	sb.WriteString("</head>\n<body>\n")

	if b.h1 != "" {
		sb.WriteString(fmt.Sprintf("  <h1 class=\"product-title\">%s</h1>\n", b.h1))
	}
	if b.price != "" {
		sb.WriteString(fmt.Sprintf("  <span class=\"price\" itemprop=\"price\" content=\"%s\">%s EUR</span>\n", b.price, b.price))
	}
	if b.sku != "" {
		sb.WriteString(fmt.Sprintf("  <span class=\"sku\">%s</span>\n", b.sku))
	}
	for _, img := range b.images {
		sb.WriteString(fmt.Sprintf("  <img class=\"product-image\" src=\"%s\">\n", img))
	}
	for _, href := range b.links {
		sb.WriteString(fmt.Sprintf("  <a href=\"%s\">link</a>\n", href))
	}
	if b.body != "" {
		sb.WriteString(b.body)
		sb.WriteString("\n")
	}
	sb.WriteString("</body>\n</html>")

	return sb.String()
}
