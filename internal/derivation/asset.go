package derivation

import (
	"strings"

	"github.com/munnerz/goautoneg"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// AssetKind discriminates Asset.
type AssetKind string

const (
	AssetInline              AssetKind = "inline"
	AssetDerivation          AssetKind = "derivation"
	AssetAcceptBasedRedirect AssetKind = "accept_redirect"
)

// RedirectOption is one content-negotiation choice.
type RedirectOption struct {
	ContentType string    `json:"content_type"`
	Route       pak.Route `json:"route"`
}

// Asset is what a route serves.
type Asset struct {
	Kind AssetKind `json:"kind"`

	// Inline
	Bytes       []byte `json:"bytes,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// Derivation
	Derivation Derivation `json:"derivation,omitempty"`

	// AcceptBasedRedirect; the last option is the fallback.
	Options []RedirectOption `json:"options,omitempty"`
}

// InlineAsset serves fixed bytes.
func InlineAsset(b []byte, contentType string) Asset {
	return Asset{Kind: AssetInline, Bytes: b, ContentType: contentType}
}

// DerivationAsset serves the output of d.
func DerivationAsset(d Derivation) Asset {
	return Asset{Kind: AssetDerivation, Derivation: d}
}

// RedirectAsset negotiates between options by Accept header.
func RedirectAsset(options ...RedirectOption) Asset {
	return Asset{Kind: AssetAcceptBasedRedirect, Options: options}
}

// Negotiate picks the option the Accept header prefers, or the last option.
// An option takes the q-value of the most specific media range naming its
// type. The highest q wins, then the more specific range, then option order.
// Ranges with q=0 refuse a type, and a bare */* only ever reaches the
// fallback. It returns false when there are no options.
func (a Asset) Negotiate(accept string) (pak.Route, bool) {
	if len(a.Options) == 0 {
		return "", false
	}

	clauses := goautoneg.ParseAccept(accept)
	best, bestQ, bestRank := -1, 0.0, rankNone
	for i, opt := range a.Options[:len(a.Options)-1] {
		q, rank := quality(clauses, opt.ContentType)
		if q <= 0 || rank < rankType {
			continue
		}
		if best < 0 || q > bestQ || (q == bestQ && rank > bestRank) {
			best, bestQ, bestRank = i, q, rank
		}
	}
	if best >= 0 {
		return a.Options[best].Route, true
	}

	return a.Options[len(a.Options)-1].Route, true
}

// How specifically a media range names a content type.
const (
	rankNone  = -1
	rankAny   = 0 // */*
	rankType  = 1 // image/*
	rankExact = 2 // image/webp
)

// quality returns the q-value of the most specific clause matching
// contentType, and how specific that clause is.
func quality(clauses []goautoneg.Accept, contentType string) (float64, int) {
	typ, sub, _ := strings.Cut(contentType, "/")
	q, rank := 0.0, rankNone
	for _, c := range clauses {
		r := rankNone
		switch {
		case strings.EqualFold(c.Type, typ) && strings.EqualFold(c.SubType, sub):
			r = rankExact
		case strings.EqualFold(c.Type, typ) && c.SubType == "*":
			r = rankType
		case c.Type == "*" && c.SubType == "*":
			r = rankAny
		}
		if r > rank {
			q, rank = c.Q, r
		}
	}

	return q, rank
}
