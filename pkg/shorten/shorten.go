package shorten

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/fetch"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

// Provider names as used in config
const (
	NameTinyURL = "tinyurl"
	NameGooGl   = "googl"
	NameBitly   = "bitly"
)

// Default API endpoints
const (
	TinyURLEndpoint = "http://tinyurl.com/api-create.php"
	GooGlEndpoint   = "http://goo.gl/api/shorten"
	BitlyEndpoint   = "http://api.bit.ly/v3/shorten"
)

// Shortener turns a long URI into a short one
type Shortener interface {
	Name() string
	Shorten(ctx context.Context, u uri.URI) (string, error)
}

// TinyURL shortens through the api-create endpoint, which answers with the short URL as text
type TinyURL struct {
	Endpoint string
	fetcher  *fetch.Fetcher
}

// NewTinyURL creates a TinyURL shortener on the default endpoint
func NewTinyURL(f *fetch.Fetcher) *TinyURL {
	return &TinyURL{Endpoint: TinyURLEndpoint, fetcher: f}
}

func (t *TinyURL) Name() string { return NameTinyURL }

func (t *TinyURL) Shorten(ctx context.Context, u uri.URI) (string, error) {
	return textResult(t.fetcher.GetText(ctx, t.Endpoint+"?url="+url.QueryEscape(u.AbsoluteURI())))
}

// GooGl posts the URL as a form and reads the short URL from the Location header
type GooGl struct {
	Endpoint string
	fetcher  *fetch.Fetcher
}

// NewGooGl creates a goo.gl shortener on the default endpoint
func NewGooGl(f *fetch.Fetcher) *GooGl {
	return &GooGl{Endpoint: GooGlEndpoint, fetcher: f}
}

func (g *GooGl) Name() string { return NameGooGl }

func (g *GooGl) Shorten(ctx context.Context, u uri.URI) (string, error) {
	form := url.Values{}
	form.Set("url", u.AbsoluteURI())
	form.Set("security_token", "null")

	resp, err := g.fetcher.PostForm(ctx, g.Endpoint, form)
	if err != nil {
		return "", err
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("%w: goo.gl answered %d", utils.ErrNoLocation, resp.StatusCode)
	}
	return loc, nil
}

// Bitly uses the v3 shorten API in txt format
type Bitly struct {
	Endpoint string
	login    string
	apiKey   string
	fetcher  *fetch.Fetcher
}

// NewBitly creates a bit.ly shortener. Both credentials are required.
func NewBitly(f *fetch.Fetcher, creds config.BitlyConfig) (*Bitly, error) {
	if creds.Login == "" || creds.APIKey == "" {
		return nil, fmt.Errorf("%w: bitly login and api_key are required", utils.ErrConfigValidation)
	}
	return &Bitly{Endpoint: BitlyEndpoint, login: creds.Login, apiKey: creds.APIKey, fetcher: f}, nil
}

func (b *Bitly) Name() string { return NameBitly }

func (b *Bitly) Shorten(ctx context.Context, u uri.URI) (string, error) {
	q := url.Values{}
	q.Set("format", "txt")
	q.Set("login", b.login)
	q.Set("apiKey", b.apiKey)
	q.Set("longUrl", u.AbsoluteURI())
	return textResult(b.fetcher.GetText(ctx, b.Endpoint+"?"+q.Encode()))
}

func textResult(body string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("%w: empty shortener response", utils.ErrParsing)
	}
	return body, nil
}

// Registry maps provider names to shorteners
type Registry struct {
	mu         sync.RWMutex
	shorteners map[string]Shortener
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{shorteners: make(map[string]Shortener)}
}

// FromConfig registers TinyURL and goo.gl, and bit.ly when credentials are set
func FromConfig(f *fetch.Fetcher, cfg config.ShortenerConfig) *Registry {
	r := NewRegistry()
	r.Register(NewTinyURL(f))
	r.Register(NewGooGl(f))
	if b, err := NewBitly(f, cfg.Bitly); err == nil {
		r.Register(b)
	}
	return r
}

// Register adds s under its name, replacing any previous one
func (r *Registry) Register(s Shortener) {
	r.mu.Lock()
	r.shorteners[s.Name()] = s
	r.mu.Unlock()
}

// Get returns the shortener registered as name
func (r *Registry) Get(name string) (Shortener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shorteners[name]
	return s, ok
}

// Names returns registered provider names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.shorteners))
	for name := range r.shorteners {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Shorten shortens u with the named provider
func (r *Registry) Shorten(ctx context.Context, name string, u uri.URI) (string, error) {
	s, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: no shortener named '%s'", utils.ErrConfigValidation, name)
	}
	return s.Shorten(ctx, u)
}
