package rules

import (
	"net/url"
	"strings"

	"github.com/linkpeek/linkpeek/pkg/uri"
)

const plixiAPI = "http://api.plixi.com/api/TPAPI.svc/imagefromurl?size=thumbnail&url="

// Sites are the built-in direct rules in match order
var Sites = []Rule{
	direct("yfrog", onHost(2, "yfrog.com"), suffix(":small")),
	direct("mobypicture", onHost(2, "moby.to"), suffix(":small")),
	direct("plixi", allOf(onHost(3, "plixi.com"), segmentIs(-2, "p/")), plixi),
	direct("tweetphoto", onHost(2, "tweetphoto.com"), plixi),
	direct("movapic", onHost(3, "movapic.com"), func(u uri.URI) string {
		return "http://image.movapic.com/pic/s_" + u.LastSegment() + ".jpeg"
	}),
	direct("imgly", onHost(2, "img.ly"), func(u uri.URI) string {
		return "http://img.ly/show/thumb/" + u.LastSegment()
	}),
	direct("twitgoo", onHost(2, "twitgoo.com"), suffix("/thumb")),
	direct("hatena-fotolife", onHost(3, "f.hatena.ne.jp"), hatena),
	direct("owly", allOf(onHost(3, "ow.ly"), segmentIs(1, "i/")), func(u uri.URI) string {
		return "http://static.ow.ly/photos/thumb/" + u.LastSegment() + ".jpg"
	}),
	direct("youtube", allOf(onHost(2, "www.youtube.com"), segmentIs(-1, "watch"), queryPrefix("?v=")), func(u uri.URI) string {
		id, _, _ := strings.Cut(strings.TrimPrefix(u.Query(), "?v="), "&")
		return "http://i.ytimg.com/vi/" + id + "/default.jpg"
	}),
	direct("youtu.be", onHost(2, "youtu.be"), func(u uri.URI) string {
		return "http://i.ytimg.com/vi/" + u.LastSegment() + "/default.jpg"
	}),
	direct("pckles", onHost(3, "pckles.com", "pckl.es"), suffix(".resize.jpg")),
	direct("twipple", anyOf(onHost(2, "p.twipple.jp"), allOf(onHost(3, "p.twipple.jp"), segmentIs(1, "data/"))), twipple),
}

// RegisterDirect adds the built-in site rules to r in order
func RegisterDirect(r *Registry) {
	for _, rule := range Sites {
		r.MustRegister(rule)
	}
}

func direct(name string, match func(uri.URI) bool, transform func(uri.URI) string) Rule {
	return Rule{Name: name, Kind: Direct, Match: match, Transform: transform}
}

// onHost matches an exact host (one of hosts) and an exact segment count
func onHost(segments int, hosts ...string) func(uri.URI) bool {
	return func(u uri.URI) bool {
		if u.SegmentCount() != segments {
			return false
		}
		host := u.Host()
		for _, h := range hosts {
			if host == h {
				return true
			}
		}
		return false
	}
}

func segmentIs(i int, want string) func(uri.URI) bool {
	return func(u uri.URI) bool { return u.Segment(i) == want }
}

func queryPrefix(prefix string) func(uri.URI) bool {
	return func(u uri.URI) bool { return strings.HasPrefix(u.Query(), prefix) }
}

func allOf(preds ...func(uri.URI) bool) func(uri.URI) bool {
	return func(u uri.URI) bool {
		for _, p := range preds {
			if !p(u) {
				return false
			}
		}
		return true
	}
}

func anyOf(preds ...func(uri.URI) bool) func(uri.URI) bool {
	return func(u uri.URI) bool {
		for _, p := range preds {
			if p(u) {
				return true
			}
		}
		return false
	}
}

func suffix(s string) func(uri.URI) string {
	return func(u uri.URI) string { return u.AbsoluteURI() + s }
}

func plixi(u uri.URI) string {
	return plixiAPI + url.QueryEscape(u.AbsoluteURI())
}

// hatena builds the fotolife thumbnail path: /<u>/<user>/<yyyymmdd>/<id>_120.jpg.
// The user segment keeps its trailing slash.
func hatena(u uri.URI) string {
	user, id := u.Segment(1), u.Segment(2)
	day := id
	if len(day) > 8 {
		day = day[:8]
	}
	return "http://img.f.hatena.ne.jp/images/fotolife/" + user[:1] + "/" + user + day + "/" + id + "_120.jpg"
}

// twipple spreads the id over directories, one character each: AB12 -> A/B/1/2
func twipple(u uri.URI) string {
	id := u.LastSegment()
	parts := make([]string, 0, len(id))
	for _, r := range id {
		parts = append(parts, string(r))
	}
	return "http://p.twipple.jp/data/" + strings.Join(parts, "/") + "_s.jpg"
}
