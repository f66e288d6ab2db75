package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// seedMirror fills transport with a small, consistent slice of a network.
func seedMirror(transport *api.InMemoryTransport) {
	transport.SeedBlocks(
		api.Block{Number: 7, Hash: "0xaa", Timestamp: api.TimestampRange{From: "1700000000.000000000", To: strPtr("1700000001.999999999")}},
		api.Block{Number: 8, Hash: "0xbb", Timestamp: api.TimestampRange{From: "1700000002.000000000", To: strPtr("1700000003.999999999")}},
	)
	transport.SeedContracts(api.Contract{ContractID: "0.0.5005", EvmAddress: "0x000000000000000000000000000000000000138d"})
	transport.SeedAccounts(api.Account{Account: "0.0.6006", Balance: &api.Balance{Balance: 250_000_000, Timestamp: "1700000003.000000000"}})
	transport.SeedTransactions(
		api.Transaction{
			ConsensusTimestamp: "1700000000.100000000",
			TransactionID:      "0.0.6006-1699999990-000000000",
			Name:               "CONTRACTCALL",
			Result:             "SUCCESS",
			EntityID:           strPtr("0.0.5005"),
			Transfers:          []api.Transfer{{Account: "0.0.6006", Amount: -10}, {Account: "0.0.98", Amount: 10}},
		},
		api.Transaction{ConsensusTimestamp: "1700000002.100000000", Name: "CRYPTOTRANSFER", Result: "SUCCESS", Transfers: []api.Transfer{{Account: "0.0.6006", Amount: -5}}},
		api.Transaction{ConsensusTimestamp: "1700000002.200000000", Name: "CRYPTOTRANSFER", Result: "SUCCESS"},
		api.Transaction{ConsensusTimestamp: "1700000003.300000000", Name: "CRYPTOTRANSFER", Result: "INSUFFICIENT_PAYER_BALANCE"},
	)
	for i := 1; i <= 15; i++ {
		transport.SeedMessages(api.TopicMessage{
			ConsensusTimestamp: "17000000" + twoDigits(i) + ".000000000",
			TopicID:            "0.0.4004",
			SequenceNumber:     int64(i),
			Message:            "aGVsbG8=",
		})
	}
	for i := 0; i < 3; i++ {
		transport.SeedNodes(api.NetworkNode{NodeID: int64(i), NodeAccountID: "0.0." + twoDigits(i+3)})
	}
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}

func testExplorer(t *testing.T, transport api.Transport) *explorer {
	t.Helper()
	cfg := core.Config{Network: "testnet", Store: core.StoreNone, PageSize: 10, MaxUpdateCount: 1}
	require.NoError(t, cfg.Normalize())
	e, err := newExplorer(cfg, transport)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func connectMCP(t *testing.T, e *explorer) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := newMCPServer(e).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

// callTool invokes name and decodes its structured result into out.
func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func TestMCPListsTools(t *testing.T) {
	transport := api.NewInMemoryTransport()
	cs := connectMCP(t, testExplorer(t, transport))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"get_transaction", "lookup_account", "get_block", "topic_messages"}, names)
}

func TestMCPGetTransaction(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedMirror(transport)
	cs := connectMCP(t, testExplorer(t, transport))

	var out TransactionOutput
	res := callTool(t, cs, "get_transaction", map[string]any{"timestamp": "1700000000.1"}, &out)
	require.False(t, res.IsError)

	assert.Equal(t, "CONTRACTCALL", out.Type)
	assert.True(t, out.Succeeded)
	assert.Equal(t, "0.0.5005", out.ContractID)
	assert.Equal(t, "Contract ID", out.EntityDescriptor)
	assert.Equal(t, "0.0.6006@1699999990.000000000", out.TransactionID)
	require.NotNil(t, out.BlockNumber)
	assert.Equal(t, int64(7), *out.BlockNumber)
}

func TestMCPGetTransactionNotFound(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedMirror(transport)
	cs := connectMCP(t, testExplorer(t, transport))

	res := callTool(t, cs, "get_transaction", map[string]any{"timestamp": "1600000000.000000000"}, nil)
	assert.True(t, res.IsError)

	res = callTool(t, cs, "get_transaction", map[string]any{"timestamp": "not a time"}, nil)
	assert.True(t, res.IsError)
}

func TestMCPLookupAccount(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedMirror(transport)
	cs := connectMCP(t, testExplorer(t, transport))

	var account api.Account
	res := callTool(t, cs, "lookup_account", map[string]any{"account_id": "6006"}, &account)
	require.False(t, res.IsError)
	assert.Equal(t, "0.0.6006", account.Account)
	require.NotNil(t, account.Balance)
	assert.Equal(t, int64(250_000_000), account.Balance.Balance)

	// The second lookup is served from the cache.
	callTool(t, cs, "lookup_account", map[string]any{"account_id": "0.0.6006"}, &account)
	assert.Equal(t, 1, transport.RequestsTo("accounts/0.0.6006"))

	res = callTool(t, cs, "lookup_account", map[string]any{"account_id": "0.0.1"}, nil)
	assert.True(t, res.IsError)
}

func TestMCPGetBlock(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedMirror(transport)
	cs := connectMCP(t, testExplorer(t, transport))

	var block api.Block
	require.False(t, callTool(t, cs, "get_block", map[string]any{"block": "8"}, &block).IsError)
	assert.Equal(t, "0xbb", block.Hash)

	require.False(t, callTool(t, cs, "get_block", map[string]any{"block": "1700000001.5"}, &block).IsError)
	assert.Equal(t, int64(7), block.Number)
}

func TestMCPTopicMessages(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedMirror(transport)
	cs := connectMCP(t, testExplorer(t, transport))

	var out TopicMessagesOutput
	res := callTool(t, cs, "topic_messages", map[string]any{"topic_id": "0.0.4004", "pages": 5}, &out)
	require.False(t, res.IsError)

	require.Len(t, out.Messages, 15)
	assert.Equal(t, int64(15), out.Messages[0].SequenceNumber)
	assert.Equal(t, int64(1), out.Messages[14].SequenceNumber)
	assert.True(t, out.EndOfData)
	assert.Equal(t, 2, transport.RequestsTo("topics/0.0.4004/messages"))
}
