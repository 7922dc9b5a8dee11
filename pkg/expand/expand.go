package expand

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/fetch"
	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/storage"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

var shortDomains = []string{
	"tinyurl.com", "t.co", "is.gd", "snipurl.com", "snurl.com", "tiny.cc", "tiny.ly",
	"urlenco.de", "bit.ly", "pickl.es", "qurlyq.com", "nsfw.in", "dwarfurl.com",
	"icanhaz.com", "piurl.com", "linkbee.com", "traceurl.com", "twurl.nl", "cli.gs",
	"rubyurl.com", "nav.cx", "budurl.com", "ff.im", "twitthis.com", "blip.fm", "goo.gl",
	"tumblr.com", "ustre.am", "qurl.com", "pic.gd", "digg.com", "bctiny.com", "5jp.net",
	"j.mp", "ow.ly", "bkite.com", "youtu.be", "divr.it", "mixi.bz", "p.tl", "nico.ms",
	"ht.ly", "2ch2.net", "tl.gd", "htn.to", "amzn.to", "flic.kr", "moi.st", "ux.nu",
}

var shortHosts = func() map[string]struct{} {
	m := make(map[string]struct{}, len(shortDomains))
	for _, d := range shortDomains {
		m[d] = struct{}{}
	}
	return m
}()

// ShortDomains returns the known shortener hosts
func ShortDomains() []string {
	out := make([]string, len(shortDomains))
	copy(out, shortDomains)
	return out
}

// IsShort reports whether u is on a known shortener host. Subdomains do not count.
func IsShort(u uri.URI) bool {
	_, ok := shortHosts[u.Host()]
	return ok
}

// Expander follows short URLs one hop by reading the Location header of a HEAD
// response. Results, including "no Location", are kept in the store until cleared.
type Expander struct {
	fetcher *fetch.Fetcher
	store   storage.ExpansionStore
	timeout time.Duration
	group   singleflight.Group
	log     *logrus.Entry
	now     func() time.Time
}

// New creates an Expander over store
func New(f *fetch.Fetcher, store storage.ExpansionStore, cfg *config.AppConfig, log *logrus.Entry) *Expander {
	return &Expander{
		fetcher: f,
		store:   store,
		timeout: cfg.ExpandTimeout,
		log:     log.WithField("component", "expander"),
		now:     time.Now,
	}
}

// IsShort reports whether u is on a known shortener host
func (e *Expander) IsShort(u uri.URI) bool { return IsShort(u) }

// ExpandString parses raw and expands it. Unparsable input is absent.
func (e *Expander) ExpandString(ctx context.Context, raw string) (string, bool) {
	u, err := uri.Parse(raw)
	if err != nil {
		return "", false
	}
	return e.Expand(ctx, u)
}

// Expand returns the target of u. It does not check IsShort; callers filter first.
// Transport failures and timeouts are absent and not cached, so a later call retries.
func (e *Expander) Expand(ctx context.Context, u uri.URI) (string, bool) {
	key := u.String()
	expLog := e.log.WithField("url", key)

	status, entry, err := e.store.Lookup(key)
	if err != nil {
		expLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Expansion store lookup failed: %v", err)
	} else if status.IsCached() {
		return entry.Target, entry.Found
	}

	ch := e.group.DoChan(key, func() (any, error) {
		workCtx := context.WithoutCancel(ctx)
		if e.timeout > 0 {
			var cancel context.CancelFunc
			workCtx, cancel = context.WithTimeout(workCtx, e.timeout)
			defer cancel()
		}
		return e.fetch(workCtx, key, expLog)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			expLog.WithField("error_type", utils.CategorizeError(res.Err)).Debugf("Expansion failed: %v", res.Err)
			return "", false
		}
		entry := res.Val.(models.ExpansionEntry)
		return entry.Target, entry.Found
	case <-ctx.Done():
		return "", false
	}
}

func (e *Expander) fetch(ctx context.Context, key string, expLog *logrus.Entry) (models.ExpansionEntry, error) {
	resp, err := e.fetcher.Head(ctx, key)
	if err != nil {
		return models.ExpansionEntry{}, err
	}

	entry := models.ExpansionEntry{ExpandedAt: e.now().UTC()}
	if loc, lerr := resp.Location(); lerr == nil {
		entry.Target = loc.String()
		entry.Found = true
	} else {
		expLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "error_type": utils.CategorizeError(utils.ErrNoLocation)}).Debug("No Location header, caching absence")
	}

	if serr := e.store.Save(key, entry); serr != nil {
		expLog.WithField("error_type", utils.CategorizeError(serr)).Warnf("Failed to store expansion: %v", serr)
	}
	return entry, nil
}

// ClearCache empties the expansion store
func (e *Expander) ClearCache() error {
	return e.store.Clear()
}

// OnClear implements host.Listener
func (e *Expander) OnClear() {
	if err := e.ClearCache(); err != nil {
		e.log.WithField("error_type", utils.CategorizeError(err)).Warnf("Expansion cache clear failed: %v", err)
	}
}
