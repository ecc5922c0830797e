// Package cache keeps transformed image artifacts on disk, addressed by their
// canonical key. The in-memory table is persisted to an index file inside the
// cache directory on Close and reconciled against the directory contents on
// Open. Entries go stale when the source file is modified after the artifact
// was written, and the cache is purged in least-recently-used order whenever
// the configured size or file-count limit is reached.
package cache
