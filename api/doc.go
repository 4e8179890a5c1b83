// Package api collects the contracts shared across the reactor core:
// typed errors (Status/Kind), configuration (Config), the cross-thread
// task abstraction (ReactorTask), per-reactor metrics, and the two
// external-collaborator seams the reactor calls into but does not
// implement (Negotiator, InboundDispatcher).
package api
