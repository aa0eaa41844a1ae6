// Package evm implements claim.Claimer against the staking contracts on an
// EVM chain using go-ethereum.
//
// A claim resolves the ClaimsManager and DelegateManager through the
// registry, starts a new funding round when one is due, and claims the
// owner's pending rewards. Nothing is sent when no claim is pending.
package evm
