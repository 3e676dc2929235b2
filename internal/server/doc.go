// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the origin registry that maps an inbound Host onto the upstream origin a
// fetch event should target. Worker endpoints under /-/ live in the routes
// subpackage; the fetch bridge lives in package proxy.
package server
