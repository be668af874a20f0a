package search_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"phishdetect/internal/search"
)

func TestExtractResultLinks(t *testing.T) {
	page := `
<html><body>
  <a href="/url?q=https://brand.example.com/login&amp;sa=U">result one</a>
  <a href="https://other.net/page">result two</a>
  <a href="https://www.google.com/imghp">internal</a>
  <a href="/search?q=next">pagination</a>
  <a href="https://other.net/page">duplicate</a>
  <a>no href</a>
</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}

	got := search.ExtractResultLinks(doc)
	expected := []string{
		"https://brand.example.com/login",
		"https://other.net/page",
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("ExtractResultLinks = %v, expected %v", got, expected)
	}
}

func TestModeStage(t *testing.T) {
	if search.ModeText.Stage() != "textsearch" {
		t.Errorf("text mode maps to %q", search.ModeText.Stage())
	}
	if search.ModeImage.Stage() != "imagesearch" {
		t.Errorf("image mode maps to %q", search.ModeImage.Stage())
	}
}
