// Package backend provides the service registry of the gateway and the
// shared outbound connection pool.
//
// A Registry maps short service names to Descriptors. Reads are served
// from an immutable snapshot swapped atomically on every mutation, so
// lookups on the request path never take a lock and never observe a
// partially written entry. Writers (admin calls, snapshot reloads) are
// serialized by a mutex.
//
//	registry := backend.NewRegistry(backend.WithLogger(logger))
//	registry.Initialize("/app/config/services.json")
//
//	d, ok := registry.Lookup("hello")
//
// Descriptors are values. Updates replace an entry wholesale.
package backend
