package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	registryABIJSON = `[
{"type":"function","name":"getContract","stateMutability":"view","inputs":[{"name":"_name","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`
	claimsManagerABIJSON = `[
{"type":"function","name":"getLastFundedBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getFundingRoundBlockDiff","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"claimPending","stateMutability":"view","inputs":[{"name":"_sp","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"initiateRound","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`
	delegateManagerABIJSON = `[
{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[{"name":"_serviceProvider","type":"address"}],"outputs":[]}
]`
	erc20ABIJSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`
)

// Registry keys of the contracts a claim needs.
const (
	ClaimsManagerKey   = "ClaimsManagerProxy"
	DelegateManagerKey = "DelegateManager"
)

var (
	registryABI        = mustParseABI(registryABIJSON)
	claimsManagerABI   = mustParseABI(claimsManagerABIJSON)
	delegateManagerABI = mustParseABI(delegateManagerABIJSON)
	erc20ABI           = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// registryKey encodes a contract name the way the registry stores it:
// UTF-8 bytes, right padded to 32.
func registryKey(name string) [32]byte {
	var k [32]byte
	copy(k[:], name)
	return k
}
