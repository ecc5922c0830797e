// Package server hosts the Fiber HTTP service: the connection scheduler that
// bounds live client connections, the route table dispatching requests by
// method and path prefix, and the request middleware chain (request IDs,
// panic recovery, JSON error bodies).
package server
