package services

import (
	"context"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/indexer"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// Served is what a route resolves to. Exactly one of Bytes or Redirect is
// meaningful.
type Served struct {
	Route       pak.Route
	ContentType string
	Bytes       []byte
	// Redirect is set for content-negotiated routes.
	Redirect pak.Route
}

// Serve resolves route in rev: a page body, an inline asset, a negotiated
// redirect, or the output of a derivation computed through the cache.
func (s *Site) Serve(ctx context.Context, rev *indexer.Revision, route pak.Route, accept string) (*Served, error) {
	if ip, ok := rev.PageRoutes[route]; ok {
		return &Served{Route: route, ContentType: "text/html; charset=utf-8", Bytes: rev.Pages[ip].Body}, nil
	}

	asset, ok := rev.Assets[route]
	if !ok {
		return nil, errors.NewNotFoundError(errors.ErrCodeRouteNotFound, "no page or asset at route").WithPath(route.String())
	}

	switch asset.Kind {
	case derivation.AssetInline:
		return &Served{Route: route, ContentType: asset.ContentType, Bytes: asset.Bytes}, nil
	case derivation.AssetAcceptBasedRedirect:
		target, ok := asset.Negotiate(accept)
		if !ok {
			return nil, errors.NewNotFoundError(errors.ErrCodeRouteNotFound, "redirect has no options").WithPath(route.String())
		}
		return &Served{Route: route, Redirect: target}, nil
	case derivation.AssetDerivation:
		d := asset.Derivation
		in, ok := rev.Pak.Inputs[d.Input]
		if !ok {
			return nil, errors.NewInternalError(errors.ErrCodeInternalError, "asset refers to a missing input", nil).
				WithPath(d.Input.String())
		}
		var fonts []pak.Input
		if d.Kind.Tag == derivation.TagDrawioRender {
			fonts = FontInputs(rev.Pak)
		}
		data, err := s.Compute.Derive(ctx, in, d, fonts)
		if err != nil {
			return nil, errors.Propagate(err, "deriving "+route.String())
		}
		return &Served{Route: route, ContentType: d.Kind.ContentType(in.Path), Bytes: data}, nil
	default:
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "unknown asset kind "+string(asset.Kind), nil)
	}
}

// FontInputs returns the inputs of the fonts embedded in p.
func FontInputs(p *pak.Pak) []pak.Input {
	fonts := make([]pak.Input, 0, len(p.Fonts.Fonts))
	for _, f := range p.Fonts.Fonts {
		if in, ok := p.Inputs[f.Path]; ok {
			fonts = append(fonts, in)
		}
	}

	return fonts
}
