// Package lifecycle drives the install and activate phases of the offline
// cache: precaching the application shell and CDN assets, then removing
// caches left behind by previous versions and claiming open clients.
package lifecycle
