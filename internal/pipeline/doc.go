// Package pipeline turns parsed IIIF requests into responses. It runs the
// permission preflight, resolves the source file and then serves one of
// three flows: the info document, a plain file (or a redirect to the info
// document for images) and transformed images backed by the artifact cache.
package pipeline
