/*
Package library loads external rendering libraries once per process.

# Overview

Snippets cannot carry their own imports, so every library they use is fetched,
compiled and installed into the shared runtime under a well-known global name.
The Registry guarantees that for a given spec id at most one load is in flight
and at most one handle is resident:

	reg := library.NewRegistry(fetcher, library.WithCatalog(catalog))
	h, err := reg.EnsureLoaded(ctx, spec) // concurrent callers share one fetch

Failures are never cached; the next call fetches again.

# Fetching

  - HTTPFetcher: resty over a retryablehttp client, token bucket limiter and circuit breaker
  - LocalFetcher: files under the static root, indexed with fastwalk
  - MultiFetcher: routes by locator scheme

Fetched bodies go through DecodeSource, which inflates gzip, rejects HTML and
binary payloads, and transcodes legacy encodings to UTF-8.

# Catalog

The catalog names the well-known libraries (d3, three and its controls) and
the two coordinate-plane skeletons. A YAML or TOML file can override or extend
it. Alias patterns map CDN locators used by snippets onto catalog entries so
an import of https://esm.sh/three@0.160.0 binds to the resident THREE.
*/
package library
