package router

import (
	"fmt"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// Route lists what must be resident before a snippet of one dimension runs
type Route struct {
	Dimension types.Dimension
	Specs     []library.Spec
	Skeleton  *library.Spec
}

// rule maps a dimension onto catalog ids
type rule struct {
	libraries []string
	skeleton  string
}

var rules = map[types.Dimension]rule{
	types.Dimension2D:   {libraries: []string{library.D3}, skeleton: library.Cartesian2D},
	types.Dimension3D:   {libraries: []string{library.Three, library.OrbitControls}, skeleton: library.Cartesian3D},
	types.DimensionDemo: {},
}

// Router resolves dimensions against a library catalog
type Router struct {
	catalog *library.Catalog
}

// New creates a router; a nil catalog uses the defaults
func New(catalog *library.Catalog) *Router {
	if catalog == nil {
		catalog = library.DefaultCatalog()
	}
	return &Router{catalog: catalog}
}

// Resolve returns the libraries for dim, plus the coordinate-plane skeleton
// when usesSharedPlane is set. Unknown dimensions fail with
// types.ErrUnsupportedDimension.
func (r *Router) Resolve(dim types.Dimension, usesSharedPlane bool) (Route, error) {
	ru, ok := rules[dim]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", types.ErrUnsupportedDimension, string(dim))
	}

	route := Route{Dimension: dim}
	for _, id := range ru.libraries {
		spec, err := r.catalog.MustGet(id)
		if err != nil {
			return Route{}, err
		}
		route.Specs = append(route.Specs, spec)
	}

	if usesSharedPlane && ru.skeleton != "" {
		spec, err := r.catalog.MustGet(ru.skeleton)
		if err != nil {
			return Route{}, err
		}
		route.Skeleton = &spec
	}
	return route, nil
}

// Route parses a raw dimension tag and resolves it
func (r *Router) Route(dimension string, usesSharedPlane bool) (Route, error) {
	dim, err := types.ParseDimension(dimension)
	if err != nil {
		return Route{}, err
	}
	return r.Resolve(dim, usesSharedPlane)
}
