// Package cache implements the Cache Store Manager: named, versioned stores
// that map a request fingerprint (method + normalized URL) to a response
// snapshot. Two backends share the same Storage/Store contract. The disk
// backend lays entries out as StoragePath/<store name>/<sha1>.entry and writes
// them through temp file + rename; the sqlite backend keeps a stores table and
// an entries table in a single database file. Snapshots are msgpack encoded
// in both cases.
//
// Stores carry no TTL. An entry is replaced by the next successful write and
// only disappears when its whole store is deleted, which is how versioned
// cache names are retired by the lifecycle controller.
package cache
