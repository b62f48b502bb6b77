//go:build property

package derivation

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func TestPlanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(4321)

	properties := gopter.NewProperties(parameters)

	build := func(widths []uint32) *pak.Pak {
		p := pak.New("rev")
		for i, w := range widths {
			path := pak.InputPath(fmt.Sprintf("/content/img%d.jpg", i))
			addInput(p, path, fmt.Sprintf("image %d", i))
			p.MediaProps[path] = pak.MediaProps{Kind: pak.MediaBitmap, Width: w, Height: w, Density: 1, Codec: "jpeg"}
		}
		return p
	}

	properties.Property("planning is deterministic", prop.ForAll(
		func(widths []uint32) bool {
			a, errA := Build(build(widths))
			b, errB := Build(build(widths))
			return errA == nil && errB == nil && reflect.DeepEqual(a, b)
		},
		gen.SliceOfN(5, gen.UInt32Range(1, 5000)),
	))

	properties.Property("bitmap variants never upscale", prop.ForAll(
		func(widths []uint32) bool {
			p := build(widths)
			pl, err := Build(p)
			if err != nil {
				return false
			}
			for _, asset := range pl.Assets {
				if asset.Kind != AssetDerivation || asset.Derivation.Kind.Tag != TagBitmap {
					continue
				}
				if asset.Derivation.Kind.MaxWidth > p.MediaProps[asset.Derivation.Input].Width {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.UInt32Range(1, 5000)),
	))

	properties.Property("every input route resolves to an asset", prop.ForAll(
		func(widths []uint32) bool {
			pl, err := Build(build(widths))
			if err != nil {
				return false
			}
			for _, route := range pl.AssetRoutes {
				if _, ok := pl.Assets[route]; !ok {
					return false
				}
			}
			return len(pl.AssetRoutes) == len(widths)
		},
		gen.SliceOfN(5, gen.UInt32Range(1, 5000)),
	))

	properties.TestingRun(t)
}
