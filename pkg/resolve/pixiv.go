package resolve

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/extract"
	"github.com/linkpeek/linkpeek/pkg/fetch"
	"github.com/linkpeek/linkpeek/pkg/rules"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

const (
	pixivIllustPage = "http://www.pixiv.net/member_illust.php?mode=medium&illust_id="
	illustIDParam   = "illust_id="
	maxPageBytes    = 2 << 20
)

// IsPixiv matches p.tl image links and pixiv illustration pages
func IsPixiv(u uri.URI) bool {
	switch u.Host() {
	case "p.tl":
		return u.SegmentCount() == 3 && u.Segment(1) == "i/"
	case "www.pixiv.net":
		return u.Path() == "/member_illust.php" && strings.Contains(u.Query(), illustIDParam)
	}
	return false
}

// IllustPage returns the pixiv page that shows the illustration u points at
func IllustPage(u uri.URI) string {
	if u.Host() == "p.tl" {
		return pixivIllustPage + u.LastSegment()
	}
	return u.AbsoluteURI()
}

// IllustID returns the illust_id parameter value of page, up to the next '&'
func IllustID(page string) string {
	i := strings.Index(page, illustIDParam)
	if i < 0 {
		return ""
	}
	id, _, _ := strings.Cut(page[i+len(illustIDParam):], "&")
	return id
}

type pixivLocator struct {
	fetcher *fetch.Fetcher
	log     *logrus.Entry
}

// PixivRule is the deferred rule that scrapes the illustration page for its thumbnail
func PixivRule(f *fetch.Fetcher, log *logrus.Entry) rules.Rule {
	p := &pixivLocator{fetcher: f, log: log.WithField("rule", "pixiv")}
	return rules.Rule{
		Name:   "pixiv",
		Kind:   rules.Deferred,
		Match:  IsPixiv,
		Locate: p.Locate,
	}
}

// Locate fetches the illustration page and picks the first thumbnail-sized image.
// The Referer of the returned asset is the page URL after redirects.
func (p *pixivLocator) Locate(ctx context.Context, u uri.URI) (rules.Asset, bool) {
	page := IllustPage(u)
	id := IllustID(page)
	pageLog := p.log.WithFields(logrus.Fields{"url": u.String(), "page": page, "illust_id": id})

	resp, err := p.fetcher.Get(ctx, page, nil)
	if err != nil {
		pageLog.WithField("error_type", utils.CategorizeError(err)).Debugf("Illustration page fetch failed: %v", err)
		return rules.Asset{}, false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	final, err := url.Parse(page)
	if err != nil {
		return rules.Asset{}, false
	}
	if resp.Request != nil {
		final = resp.Request.URL
	}
	img, err := extract.FindImageInReader(io.LimitReader(resp.Body, maxPageBytes), final, id)
	if err != nil {
		pageLog.WithField("error_type", utils.CategorizeError(err)).Debugf("No thumbnail on illustration page: %v", err)
		return rules.Asset{}, false
	}

	pageLog.WithField("image", img.String()).Debug("Located illustration thumbnail")
	return rules.Asset{URL: img.String(), Referer: final.String()}, true
}
