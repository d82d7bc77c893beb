// Package server hosts the Fiber HTTP service that fronts the playground
// origin. It attaches recovery and request-id middlewares, routes every
// non-diagnostics request to the intercepting proxy handler, and provides the
// shared upstream http.Client plus hop-by-hop header filtering used when
// responses are copied between the network and the cache.
package server
