// Package cache owns the named, versioned asset store of the offline cache
// agent. A Manager lazily opens exactly one Store per generation (the name
// carries the version tag, so bumping the version orphans the previous store),
// seeds it from the build manifest, and exposes whole-entry lookup and
// replace-on-write primitives. Backends (disk, sqlite, memory, redis) share a
// single msgpack record layout so entries keep their original status and
// headers, including the ETag used for change detection.
package cache
