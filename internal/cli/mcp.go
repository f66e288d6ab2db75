package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/colthorp/mirror-explorer-go/internal/analyzer"
	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/observable"
	"github.com/colthorp/mirror-explorer-go/internal/table"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxToolPages caps how many pages a single topic_messages call may walk.
const maxToolPages = 10

// GetTransactionInput are the parameters for the get_transaction tool
type GetTransactionInput struct {
	Timestamp string `json:"timestamp" jsonschema:"Consensus timestamp (seconds.nanos) or a 'YYYY-MM-DD HH:MM:SS' UTC datetime"`
}

// TransactionOutput is the analyzed transaction returned by get_transaction
type TransactionOutput struct {
	Transaction      *api.Transaction `json:"transaction"`
	TransactionID    string           `json:"transaction_id"`
	Type             string           `json:"type"`
	Result           string           `json:"result"`
	Succeeded        bool             `json:"succeeded"`
	EntityDescriptor string           `json:"entity_descriptor,omitempty"`
	EntityID         string           `json:"entity_id,omitempty"`
	ContractID       string           `json:"contract_id,omitempty"`
	AccountID        string           `json:"account_id,omitempty"`
	SystemContract   string           `json:"system_contract,omitempty"`
	BlockNumber      *int64           `json:"block_number"`
	Hash             string           `json:"hash,omitempty"`
}

// LookupAccountInput are the parameters for the lookup_account tool
type LookupAccountInput struct {
	AccountID string `json:"account_id" jsonschema:"Account ID as SHARD.REALM.NUM or a bare account number"`
}

// GetBlockInput are the parameters for the get_block tool
type GetBlockInput struct {
	Block string `json:"block" jsonschema:"Block number, or a consensus timestamp the block contains"`
}

// TopicMessagesInput are the parameters for the topic_messages tool
type TopicMessagesInput struct {
	TopicID string `json:"topic_id" jsonschema:"Topic ID as SHARD.REALM.NUM or a bare topic number"`
	Pages   int    `json:"pages,omitempty" jsonschema:"Number of pages to return, newest first (default 1, max 10)"`
}

// TopicMessagesOutput is one or more pages of topic messages
type TopicMessagesOutput struct {
	TopicID   string             `json:"topic_id"`
	Messages  []api.TopicMessage `json:"messages"`
	EndOfData bool               `json:"end_of_data"`
}

// newMCPServer registers the explorer tools over e's caches.
func newMCPServer(e *explorer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "mirror-explorer", Version: core.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_transaction",
		Description: "Fetch a transaction by consensus timestamp, with the contract or account it targets and the block that contains it.",
	}, e.getTransactionTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "lookup_account",
		Description: "Fetch an account's balance, EVM address and metadata.",
	}, e.lookupAccountTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_block",
		Description: "Fetch a block by number or by a consensus timestamp inside it.",
	}, e.getBlockTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "topic_messages",
		Description: "List a consensus topic's messages, newest first.",
	}, e.topicMessagesTool)

	return server
}

// runMCPServer serves the explorer tools on stdio until ctx ends.
func runMCPServer(ctx context.Context, e *explorer) error {
	return newMCPServer(e).Run(ctx, &mcp.StdioTransport{})
}

func (e *explorer) getTransactionTool(ctx context.Context, _ *mcp.CallToolRequest, in GetTransactionInput) (*mcp.CallToolResult, TransactionOutput, error) {
	ts, err := core.ParseTimestampSpec(in.Timestamp, core.GetTZ(timezone))
	if err != nil {
		return nil, TransactionOutput{}, err
	}
	a := analyzer.New(analyzer.FromManager(e.manager), observable.NewComparable(""), verbose)
	result, err := a.Analyze(ctx, ts)
	if err != nil {
		return nil, TransactionOutput{}, err
	}
	if result.Transaction == nil {
		return nil, TransactionOutput{}, fmt.Errorf("no transaction at %s", ts)
	}
	return nil, TransactionOutput{
		Transaction:      result.Transaction,
		TransactionID:    result.FormattedTransactionID(),
		Type:             result.TransactionType(),
		Result:           result.Result(),
		Succeeded:        result.HasSucceeded(),
		EntityDescriptor: result.EntityDescriptor(),
		EntityID:         result.EntityID(),
		ContractID:       result.ContractID,
		AccountID:        result.AccountID,
		SystemContract:   result.SystemContract(),
		BlockNumber:      result.BlockNumber,
		Hash:             result.FormattedHash(),
	}, nil
}

func (e *explorer) lookupAccountTool(ctx context.Context, _ *mcp.CallToolRequest, in LookupAccountInput) (*mcp.CallToolResult, api.Account, error) {
	id, err := core.ParseEntityID(in.AccountID)
	if err != nil {
		return nil, api.Account{}, err
	}
	account, ok := e.manager.AccountByID.Lookup(ctx, id)
	if !ok {
		return nil, api.Account{}, fmt.Errorf("account %s not found", id)
	}
	return nil, account, nil
}

func (e *explorer) getBlockTool(ctx context.Context, _ *mcp.CallToolRequest, in GetBlockInput) (*mcp.CallToolResult, api.Block, error) {
	var (
		block api.Block
		ok    bool
	)
	if n, err := strconv.ParseInt(in.Block, 10, 64); err == nil {
		block, ok = e.manager.BlockByNumber.Lookup(ctx, n)
	} else {
		ts, err := core.ParseTimestampSpec(in.Block, core.GetTZ(timezone))
		if err != nil {
			return nil, api.Block{}, err
		}
		block, ok = e.manager.BlockByTs.Lookup(ctx, ts)
	}
	if !ok {
		return nil, api.Block{}, fmt.Errorf("block %s not found", in.Block)
	}
	return nil, block, nil
}

func (e *explorer) topicMessagesTool(ctx context.Context, _ *mcp.CallToolRequest, in TopicMessagesInput) (*mcp.CallToolResult, TopicMessagesOutput, error) {
	id, err := core.ParseEntityID(in.TopicID)
	if err != nil {
		return nil, TopicMessagesOutput{}, err
	}
	pages := min(max(in.Pages, 1), maxToolPages)

	c := table.NewTopicMessageController(e.manager.API(), table.Fixed(id), e.tableConfig())
	out := TopicMessagesOutput{TopicID: id, Messages: []api.TopicMessage{}}
	err = printPages(ctx, c, pages, func(rows []api.TopicMessage) {
		out.Messages = append(out.Messages, rows...)
	})
	if err != nil {
		return nil, TopicMessagesOutput{}, err
	}
	out.EndOfData = c.AtEnd()
	return nil, out, nil
}
