package gov

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const governorABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "proposer", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "targets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "values", "type": "uint256[]"},
      {"indexed": false, "internalType": "string[]", "name": "signatures", "type": "string[]"},
      {"indexed": false, "internalType": "bytes[]", "name": "calldatas", "type": "bytes[]"},
      {"indexed": false, "internalType": "uint256", "name": "startBlock", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "endBlock", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "eta", "type": "uint256"}
    ],
    "name": "ProposalQueued",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"}
    ],
    "name": "ProposalExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"}
    ],
    "name": "ProposalCanceled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "voter", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "support", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "votes", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "VoteCast",
    "type": "event"
  }
]`

var (
	governorABI     abi.ABI
	governorABIOnce sync.Once
	governorABIErr  error
)

// GovernorABI returns the parsed governance event ABI.
func GovernorABI() (abi.ABI, error) {
	governorABIOnce.Do(func() {
		governorABI, governorABIErr = abi.JSON(strings.NewReader(governorABIJSON))
	})
	return governorABI, governorABIErr
}
