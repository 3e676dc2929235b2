// Package strategy implements the caching strategies that serve classified GET
// requests: stale-while-revalidate for images, network-first for video,
// external and default traffic, and cache-first for the application shell.
//
// Engine.Serve never returns an error. Every failure resolves to a cached
// copy, a synthesized response, or an explicit "not found" Result that the
// caller turns into its own fallback. Cache writes and background
// revalidations run on cache.Writer and are never awaited by the response
// path.
package strategy
