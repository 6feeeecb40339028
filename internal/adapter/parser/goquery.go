// Package parser implements domain.PageParser on top of goquery.
package parser

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwygoda/collector/internal/domain"
)

// HTML parses pages with goquery's CSS selector engine.
type HTML struct{}

// New creates an HTML parser.
func New() *HTML {
	return &HTML{}
}

// Parse builds a document from raw HTML.
func (HTML) Parse(html []byte) (domain.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return document{doc: doc}, nil
}

type document struct {
	doc *goquery.Document
}

// Select returns every element matching selector. An invalid selector matches nothing.
func (d document) Select(selector string) []domain.Element {
	var elements []domain.Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, element{sel: s})
	})
	return elements
}

type element struct {
	sel *goquery.Selection
}

func (e element) HasClass(name string) bool {
	return e.sel.HasClass(name)
}

func (e element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}
