package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs for the contracts the offer engine talks to.
// Tuple layouts mirror the settlement contract's structs.

const collateralTupleJSON = `{"name": "collateral", "type": "tuple", "components": [
	{"name": "collection", "type": "address"},
	{"name": "criteria", "type": "uint8"},
	{"name": "itemType", "type": "uint8"},
	{"name": "identifier", "type": "uint256"},
	{"name": "size", "type": "uint256"}
]}`

const feeTupleJSON = `{"name": "fee", "type": "tuple", "components": [
	{"name": "recipient", "type": "address"},
	{"name": "rate", "type": "uint256"}
]}`

const lienTupleJSON = `{"name": "lien", "type": "tuple", "components": [
	{"name": "recipient", "type": "address"},
	{"name": "lender", "type": "address"},
	{"name": "borrower", "type": "address"},
	{"name": "currency", "type": "address"},
	{"name": "collection", "type": "address"},
	{"name": "itemType", "type": "uint8"},
	{"name": "tokenId", "type": "uint256"},
	{"name": "size", "type": "uint256"},
	{"name": "principal", "type": "uint256"},
	{"name": "rate", "type": "uint256"},
	{"name": "defaultRate", "type": "uint256"},
	{"name": "fee", "type": "uint256"},
	{"name": "duration", "type": "uint256"},
	{"name": "gracePeriod", "type": "uint256"},
	{"name": "startTime", "type": "uint256"}
]}`

const loanOfferTupleJSON = `{"name": "offer", "type": "tuple", "components": [
	{"name": "lender", "type": "address"},
	` + collateralTupleJSON + `,
	{"name": "terms", "type": "tuple", "components": [
		{"name": "currency", "type": "address"},
		{"name": "totalAmount", "type": "uint256"},
		{"name": "maxAmount", "type": "uint256"},
		{"name": "minAmount", "type": "uint256"},
		{"name": "rate", "type": "uint256"},
		{"name": "defaultRate", "type": "uint256"},
		{"name": "duration", "type": "uint256"},
		{"name": "gracePeriod", "type": "uint256"}
	]},
	` + feeTupleJSON + `,
	{"name": "expiration", "type": "uint256"},
	{"name": "salt", "type": "uint256"},
	{"name": "nonce", "type": "uint256"}
]}`

const borrowOfferTupleJSON = `{"name": "offer", "type": "tuple", "components": [
	{"name": "borrower", "type": "address"},
	` + collateralTupleJSON + `,
	{"name": "terms", "type": "tuple", "components": [
		{"name": "currency", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "rate", "type": "uint256"},
		{"name": "defaultRate", "type": "uint256"},
		{"name": "duration", "type": "uint256"},
		{"name": "gracePeriod", "type": "uint256"}
	]},
	` + feeTupleJSON + `,
	{"name": "expiration", "type": "uint256"},
	{"name": "salt", "type": "uint256"},
	{"name": "nonce", "type": "uint256"}
]}`

const marketOfferTupleJSON = `{"name": "offer", "type": "tuple", "components": [
	{"name": "side", "type": "uint8"},
	{"name": "maker", "type": "address"},
	` + collateralTupleJSON + `,
	{"name": "terms", "type": "tuple", "components": [
		{"name": "currency", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "withLoan", "type": "bool"},
		{"name": "borrowAmount", "type": "uint256"},
		{"name": "loanOfferHash", "type": "bytes32"}
	]},
	` + feeTupleJSON + `,
	{"name": "expiration", "type": "uint256"},
	{"name": "salt", "type": "uint256"},
	{"name": "nonce", "type": "uint256"}
]}`

const signatureArgs = `{"name": "signature", "type": "bytes"},
	{"name": "proof", "type": "bytes32[]"}`

// KettleABI is the settlement contract interface used by the engine
const KettleABI = `[
	{"type": "function", "name": "nonces", "stateMutability": "view",
	 "inputs": [{"name": "user", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "cancelledOrFulfilled", "stateMutability": "view",
	 "inputs": [{"name": "user", "type": "address"}, {"name": "salt", "type": "uint256"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "amountTaken", "stateMutability": "view",
	 "inputs": [{"name": "offerHash", "type": "bytes32"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "currentDebtAmount", "stateMutability": "view",
	 "inputs": [` + lienTupleJSON + `],
	 "outputs": [{"name": "debt", "type": "uint256"}, {"name": "fee", "type": "uint256"}, {"name": "interest", "type": "uint256"}]},
	{"type": "function", "name": "hashLoanOffer", "stateMutability": "view",
	 "inputs": [` + loanOfferTupleJSON + `],
	 "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "hashBorrowOffer", "stateMutability": "view",
	 "inputs": [` + borrowOfferTupleJSON + `],
	 "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "hashMarketOffer", "stateMutability": "view",
	 "inputs": [` + marketOfferTupleJSON + `],
	 "outputs": [{"name": "", "type": "bytes32"}]},
	{"type": "function", "name": "borrow", "stateMutability": "nonpayable",
	 "inputs": [` + loanOfferTupleJSON + `,
		{"name": "amount", "type": "uint256"},
		{"name": "tokenId", "type": "uint256"},
		{"name": "borrower", "type": "address"},
		` + signatureArgs + `],
	 "outputs": [{"name": "lienId", "type": "uint256"}]},
	{"type": "function", "name": "loan", "stateMutability": "nonpayable",
	 "inputs": [` + borrowOfferTupleJSON + `, {"name": "signature", "type": "bytes"}],
	 "outputs": [{"name": "lienId", "type": "uint256"}]},
	{"type": "function", "name": "marketOrder", "stateMutability": "nonpayable",
	 "inputs": [{"name": "tokenId", "type": "uint256"}, ` + marketOfferTupleJSON + `,
		` + signatureArgs + `],
	 "outputs": []},
	{"type": "function", "name": "buyInLien", "stateMutability": "nonpayable",
	 "inputs": [{"name": "lienId", "type": "uint256"}, ` + lienTupleJSON + `, ` + marketOfferTupleJSON + `,
		` + signatureArgs + `],
	 "outputs": []},
	{"type": "function", "name": "sellInLien", "stateMutability": "nonpayable",
	 "inputs": [{"name": "lienId", "type": "uint256"}, ` + lienTupleJSON + `, ` + marketOfferTupleJSON + `,
		` + signatureArgs + `],
	 "outputs": []},
	{"type": "function", "name": "refinance", "stateMutability": "nonpayable",
	 "inputs": [{"name": "lienId", "type": "uint256"}, {"name": "amount", "type": "uint256"},
		` + lienTupleJSON + `, ` + loanOfferTupleJSON + `,
		` + signatureArgs + `],
	 "outputs": []},
	{"type": "function", "name": "repay", "stateMutability": "nonpayable",
	 "inputs": [{"name": "lienId", "type": "uint256"}, ` + lienTupleJSON + `],
	 "outputs": []},
	{"type": "function", "name": "claim", "stateMutability": "nonpayable",
	 "inputs": [{"name": "lienId", "type": "uint256"}, ` + lienTupleJSON + `],
	 "outputs": []},
	{"type": "function", "name": "cancelOffer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "salt", "type": "uint256"}],
	 "outputs": []},
	{"type": "function", "name": "cancelOffers", "stateMutability": "nonpayable",
	 "inputs": [{"name": "salts", "type": "uint256[]"}],
	 "outputs": []},
	{"type": "function", "name": "incrementNonce", "stateMutability": "nonpayable",
	 "inputs": [],
	 "outputs": []},
	{"type": "event", "name": "OfferCancelled", "anonymous": false,
	 "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "salt", "type": "uint256"}]},
	{"type": "event", "name": "NonceIncremented", "anonymous": false,
	 "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "newNonce", "type": "uint256"}]}
]`

// ERC20ABI covers the balance and allowance surface of an ERC-20 currency
const ERC20ABI = `[
	{"type": "function", "name": "balanceOf", "stateMutability": "view",
	 "inputs": [{"name": "account", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "allowance", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "approve", "stateMutability": "nonpayable",
	 "inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
	 "outputs": [{"name": "", "type": "bool"}]}
]`

const approvalForAllMethods = `
	{"type": "function", "name": "isApprovedForAll", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}, {"name": "operator", "type": "address"}],
	 "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "setApprovalForAll", "stateMutability": "nonpayable",
	 "inputs": [{"name": "operator", "type": "address"}, {"name": "approved", "type": "bool"}],
	 "outputs": []}`

// ERC721ABI covers ownership and operator approval of an ERC-721 collection
const ERC721ABI = `[
	{"type": "function", "name": "ownerOf", "stateMutability": "view",
	 "inputs": [{"name": "tokenId", "type": "uint256"}],
	 "outputs": [{"name": "", "type": "address"}]},` + approvalForAllMethods + `
]`

// ERC1155ABI covers balances and operator approval of an ERC-1155 collection
const ERC1155ABI = `[
	{"type": "function", "name": "balanceOf", "stateMutability": "view",
	 "inputs": [{"name": "account", "type": "address"}, {"name": "id", "type": "uint256"}],
	 "outputs": [{"name": "", "type": "uint256"}]},` + approvalForAllMethods + `
]`

// Multicall3ABI is the subset of Multicall3 used for batched reads
const Multicall3ABI = `[
	{"type": "function", "name": "tryAggregate", "stateMutability": "payable",
	 "inputs": [
		{"name": "requireSuccess", "type": "bool"},
		{"name": "calls", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "callData", "type": "bytes"}
		]}
	 ],
	 "outputs": [
		{"name": "returnData", "type": "tuple[]", "components": [
			{"name": "success", "type": "bool"},
			{"name": "returnData", "type": "bytes"}
		]}
	 ]}
]`

// Parsed ABIs
var (
	KettleContractABI     = mustParseABI(KettleABI)
	ERC20ContractABI      = mustParseABI(ERC20ABI)
	ERC721ContractABI     = mustParseABI(ERC721ABI)
	ERC1155ContractABI    = mustParseABI(ERC1155ABI)
	Multicall3ContractABI = mustParseABI(Multicall3ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid contract ABI: " + err.Error())
	}
	return parsed
}
