// Package api provides the HTTP client and types for the mirror node REST API.
package api

import "context"

// Links carries the cursor link of a paged mirror response.
type Links struct {
	Next *string `json:"next"`
}

// Transfer is a single hbar movement within a transaction.
type Transfer struct {
	Account    string `json:"account"`
	Amount     int64  `json:"amount"`
	IsApproval bool   `json:"is_approval,omitempty"`
}

// Transaction is a transaction as returned by /transactions.
type Transaction struct {
	ConsensusTimestamp  string     `json:"consensus_timestamp"`
	TransactionID       string     `json:"transaction_id"`
	Name                string     `json:"name"`
	Result              string     `json:"result"`
	EntityID            *string    `json:"entity_id"`
	MaxFee              string     `json:"max_fee,omitempty"`
	ChargedTxFee        int64      `json:"charged_tx_fee"`
	TransactionHash     string     `json:"transaction_hash,omitempty"`
	Node                *string    `json:"node"`
	Nonce               int        `json:"nonce"`
	ValidStartTimestamp string     `json:"valid_start_timestamp,omitempty"`
	MemoBase64          string     `json:"memo_base64,omitempty"`
	Transfers           []Transfer `json:"transfers,omitempty"`
}

// TransactionsResponse is the paged body of /transactions.
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	Links        Links         `json:"links"`
}

// Balance is an account balance snapshot.
type Balance struct {
	Balance   int64  `json:"balance"`
	Timestamp string `json:"timestamp"`
}

// Account is the body of /accounts/{id}.
type Account struct {
	Account          string   `json:"account"`
	Alias            *string  `json:"alias"`
	Balance          *Balance `json:"balance"`
	CreatedTimestamp *string  `json:"created_timestamp"`
	Deleted          bool     `json:"deleted"`
	EvmAddress       string   `json:"evm_address,omitempty"`
	Memo             string   `json:"memo,omitempty"`
	AutoRenewPeriod  *int64   `json:"auto_renew_period"`
	EthereumNonce    *int64   `json:"ethereum_nonce"`
}

// Contract is the body of /contracts/{id}.
type Contract struct {
	ContractID       string  `json:"contract_id"`
	EvmAddress       string  `json:"evm_address,omitempty"`
	FileID           *string `json:"file_id"`
	Memo             string  `json:"memo,omitempty"`
	CreatedTimestamp *string `json:"created_timestamp"`
	Deleted          bool    `json:"deleted"`
}

// TimestampRange is the consensus range covered by a block.
type TimestampRange struct {
	From string  `json:"from"`
	To   *string `json:"to"`
}

// Block is a record file as exposed by /blocks.
type Block struct {
	Number       int64          `json:"number"`
	Hash         string         `json:"hash"`
	Name         string         `json:"name,omitempty"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	Count        int            `json:"count"`
	GasUsed      int64          `json:"gas_used"`
	Size         int64          `json:"size"`
	Timestamp    TimestampRange `json:"timestamp"`
}

// BlocksResponse is the paged body of /blocks.
type BlocksResponse struct {
	Blocks []Block `json:"blocks"`
	Links  Links   `json:"links"`
}

// TopicMessage is a consensus service message.
type TopicMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	TopicID            string `json:"topic_id"`
	Message            string `json:"message"`
	PayerAccountID     string `json:"payer_account_id,omitempty"`
	RunningHash        string `json:"running_hash,omitempty"`
	SequenceNumber     int64  `json:"sequence_number"`
}

// TopicMessagesResponse is the paged body of /topics/{id}/messages.
type TopicMessagesResponse struct {
	Messages []TopicMessage `json:"messages"`
	Links    Links          `json:"links"`
}

// NetworkNode describes a consensus node.
type NetworkNode struct {
	NodeID          int64  `json:"node_id"`
	NodeAccountID   string `json:"node_account_id"`
	Description     string `json:"description"`
	Stake           int64  `json:"stake"`
	StakeRewarded   int64  `json:"stake_rewarded"`
	MaxStake        int64  `json:"max_stake"`
	MinStake        int64  `json:"min_stake"`
	RewardRateStart int64  `json:"reward_rate_start"`
}

// NetworkNodesResponse is the paged body of /network/nodes.
type NetworkNodesResponse struct {
	Nodes []NetworkNode `json:"nodes"`
	Links Links         `json:"links"`
}

// Transport is the interface for making API requests.
// Request returns the raw JSON body of a successful response.
type Transport interface {
	Request(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
}
