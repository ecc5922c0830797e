// Package codec decodes source images, applies resolved IIIF transforms and
// encodes the result. Codecs are kept in an explicit Registry built at
// startup and handed to the request pipeline.
package codec
