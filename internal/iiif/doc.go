// Package iiif parses IIIF Image API request paths and resolves the region,
// size, rotation, quality and format parameters against concrete image
// dimensions. A resolved request yields the canonical key used to address
// cached artifacts: two syntactically different requests that describe the
// same output produce the same key.
package iiif
