package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

func directRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterDirect(r)
	return r
}

func TestDirectRules(t *testing.T) {
	r := directRegistry(t)

	tests := []struct {
		name     string
		input    string
		wantRule string
		want     string
	}{
		{"yfrog", "https://yfrog.com/ab", "yfrog", "https://yfrog.com/ab:small"},
		{"mobypicture", "http://moby.to/x1y2", "mobypicture", "http://moby.to/x1y2:small"},
		{"plixi", "http://plixi.com/p/12345", "plixi", "http://api.plixi.com/api/TPAPI.svc/imagefromurl?size=thumbnail&url=http%3A%2F%2Fplixi.com%2Fp%2F12345"},
		{"tweetphoto", "http://tweetphoto.com/999", "tweetphoto", "http://api.plixi.com/api/TPAPI.svc/imagefromurl?size=thumbnail&url=http%3A%2F%2Ftweetphoto.com%2F999"},
		{"movapic", "http://movapic.com/pic/abc", "movapic", "http://image.movapic.com/pic/s_abc.jpeg"},
		{"img.ly", "http://img.ly/abc", "imgly", "http://img.ly/show/thumb/abc"},
		{"twitgoo", "http://twitgoo.com/abc", "twitgoo", "http://twitgoo.com/abc/thumb"},
		{"hatena", "http://f.hatena.ne.jp/user/20100101123456", "hatena-fotolife", "http://img.f.hatena.ne.jp/images/fotolife/u/user/20100101/20100101123456_120.jpg"},
		{"hatena short id", "http://f.hatena.ne.jp/user/2010", "hatena-fotolife", "http://img.f.hatena.ne.jp/images/fotolife/u/user/2010/2010_120.jpg"},
		{"ow.ly image", "http://ow.ly/i/abc", "owly", "http://static.ow.ly/photos/thumb/abc.jpg"},
		{"youtube", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&feature=x", "youtube", "http://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg"},
		{"youtube no extra params", "http://www.youtube.com/watch?v=abc", "youtube", "http://i.ytimg.com/vi/abc/default.jpg"},
		{"youtu.be", "https://youtu.be/dQw4w9WgXcQ", "youtu.be", "http://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg"},
		{"pckles", "http://pckles.com/u/abc", "pckles", "http://pckles.com/u/abc.resize.jpg"},
		{"pckl.es", "http://pckl.es/u/abc", "pckles", "http://pckl.es/u/abc.resize.jpg"},
		{"twipple", "http://p.twipple.jp/AB12", "twipple", "http://p.twipple.jp/data/A/B/1/2_s.jpg"},
		{"twipple data path", "https://p.twipple.jp/data/AB12", "twipple", "http://p.twipple.jp/data/A/B/1/2_s.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := r.Match(uri.MustParse(tt.input))
			require.True(t, ok, "expected a rule for %s", tt.input)
			assert.Equal(t, tt.wantRule, rule.Name)
			assert.Equal(t, Direct, rule.Kind)
			assert.Equal(t, tt.want, rule.Transform(uri.MustParse(tt.input)))
		})
	}
}

func TestDirectRules_NoMatch(t *testing.T) {
	r := directRegistry(t)

	inputs := []string{
		"https://yfrog.com/a/b",                      // wrong segment count
		"https://www.yfrog.com/ab",                   // subdomain is not the host
		"http://plixi.com/q/12345",                   // second-from-last is not p/
		"http://ow.ly/abc",                           // plain ow.ly short link
		"http://ow.ly/x/abc",                         // not an image path
		"http://www.youtube.com/watch?feature=x&v=1", // query does not start with ?v=
		"http://www.youtube.com/embed?v=1",           // not /watch
		"http://p.twipple.jp/user/AB12",              // 3 segments without data/
		"http://example.com/",
	}

	for _, in := range inputs {
		_, ok := r.Match(uri.MustParse(in))
		assert.False(t, ok, "%s should not match", in)
	}
}

func TestRegistry_FirstMatchWins(t *testing.T) {
	r := NewRegistry()
	always := func(uri.URI) bool { return true }
	r.MustRegister(Rule{Name: "first", Kind: Direct, Match: always, Transform: func(uri.URI) string { return "1" }})
	r.MustRegister(Rule{Name: "second", Kind: Direct, Match: always, Transform: func(uri.URI) string { return "2" }})

	for range 10 {
		rule, ok := r.Match(uri.MustParse("http://example.com/x"))
		require.True(t, ok)
		assert.Equal(t, "first", rule.Name)
	}
	assert.Equal(t, []string{"first", "second"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_OrderFollowsSites(t *testing.T) {
	r := directRegistry(t)
	require.Equal(t, len(Sites), r.Len())
	names := r.Names()
	assert.Equal(t, "yfrog", names[0])
	assert.Equal(t, "twipple", names[len(names)-1])
}

func TestRegistry_ZeroURI(t *testing.T) {
	r := directRegistry(t)
	_, ok := r.Match(uri.URI{})
	assert.False(t, ok)
}

func TestRegister_Invalid(t *testing.T) {
	match := func(uri.URI) bool { return true }
	locate := func(context.Context, uri.URI) (Asset, bool) { return Asset{}, false }

	tests := []struct {
		name string
		rule Rule
	}{
		{"empty name", Rule{Kind: Direct, Match: match, Transform: func(uri.URI) string { return "" }}},
		{"no predicate", Rule{Name: "x", Kind: Direct, Transform: func(uri.URI) string { return "" }}},
		{"direct without transform", Rule{Name: "x", Kind: Direct, Match: match, Locate: locate}},
		{"deferred without locate", Rule{Name: "x", Kind: Deferred, Match: match}},
		{"unknown kind", Rule{Name: "x", Kind: Kind(7), Match: match}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.rule)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrInvalidRule))
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestMustRegister_Panics(t *testing.T) {
	assert.Panics(t, func() { NewRegistry().MustRegister(Rule{}) })
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "deferred", Deferred.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
