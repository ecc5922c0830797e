// Package preflight decides, per request, whether an image may be served and
// which file backs it. Decisions come from a user supplied Lua function
// pre_flight(prefix, identifier, cookie) or, when no script is configured,
// from a static allow-all invoker.
package preflight
