package extract

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkpeek/linkpeek/pkg/utils"
)

// ImageSuffixes are the size markers an illustration thumbnail name carries after its id
var ImageSuffixes = []string{"_m", "_s"}

// Parse reads an HTML document
func Parse(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

// FindImage returns the first img src in document order, resolved against base,
// whose last path segment contains id followed by one of ImageSuffixes.
// Returns ErrNoImage when nothing matches.
func FindImage(doc *goquery.Document, base *url.URL, id string) (*url.URL, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", utils.ErrNoImage)
	}
	markers := make([]string, len(ImageSuffixes))
	for i, s := range ImageSuffixes {
		markers[i] = id + s
	}

	var found *url.URL
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return true
		}
		ref, err := url.Parse(src)
		if err != nil {
			return true
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		last := lastSegment(abs.EscapedPath())
		for _, m := range markers {
			if strings.Contains(last, m) {
				found = abs
				return false
			}
		}
		return true
	})

	if found == nil {
		return nil, fmt.Errorf("%w: no img for id %s", utils.ErrNoImage, id)
	}
	return found, nil
}

// FindImageInReader parses r and calls FindImage
func FindImageInReader(r io.Reader, base *url.URL, id string) (*url.URL, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return FindImage(doc, base, id)
}

// Ext returns the extension of the last path segment of u, or def when it has none
func Ext(u *url.URL, def string) string {
	ext := path.Ext(lastSegment(u.Path))
	if ext == "" {
		return def
	}
	return ext
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
