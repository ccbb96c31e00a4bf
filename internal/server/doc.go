// Package server hosts the Fiber HTTP facade that views talk to. It owns the
// middleware chain (request IDs, access logs, panic recovery, JSON errors) and
// nothing else; parcel and diagnostics routes live in server/routes and take
// their dependencies explicitly so tests can build an app around fakes.
package server
