// Package claim holds the claim request model and the invoker that binds
// claim requests to scheduler triggers.
//
// The invoker does not talk to a chain itself. Each tick calls a Claimer
// exactly once with the request's owner, credential and network; the
// result flows back through the task engine's result handler.
package claim
