package evm

import "errors"

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
	ErrInvalidOwner   = errors.New("owner is not a hex address")
	ErrInvalidKey     = errors.New("invalid private key")
)
