package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// InMemoryTransport is a lightweight simulation of the mirror node REST API.
// It implements the endpoints the explorer consumes, sufficient for unit
// testing the caching, polling and paging logic. Safe for concurrent use.
type InMemoryTransport struct {
	mu           sync.Mutex
	transactions []Transaction
	accounts     map[string]Account
	contracts    map[string]Contract
	blocks       []Block
	messages     map[string][]TopicMessage
	nodes        []NetworkNode

	// Hook, when set, runs before every request (outside the lock). Tests use
	// it to block, delay or fail individual calls. A non-nil error is
	// returned to the caller instead of a response.
	Hook func(ctx context.Context, endpoint string, params map[string]string) error

	RequestLog []RequestLogEntry
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Endpoint string
	Params   map[string]string
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		accounts:   make(map[string]Account),
		contracts:  make(map[string]Contract),
		messages:   make(map[string][]TopicMessage),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// SeedTransactions adds transactions to the in-memory store.
func (t *InMemoryTransport) SeedTransactions(txs ...Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions = append(t.transactions, txs...)
}

// SeedAccounts adds accounts to the in-memory store.
func (t *InMemoryTransport) SeedAccounts(accounts ...Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range accounts {
		t.accounts[a.Account] = a
	}
}

// SeedContracts adds contracts to the in-memory store.
func (t *InMemoryTransport) SeedContracts(contracts ...Contract) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range contracts {
		t.contracts[c.ContractID] = c
	}
}

// SeedBlocks adds blocks to the in-memory store.
func (t *InMemoryTransport) SeedBlocks(blocks ...Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks = append(t.blocks, blocks...)
}

// SeedMessages adds messages to the in-memory store, keyed by their topic.
func (t *InMemoryTransport) SeedMessages(msgs ...TopicMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.messages[m.TopicID] = append(t.messages[m.TopicID], m)
	}
}

// SeedNodes adds network nodes to the in-memory store.
func (t *InMemoryTransport) SeedNodes(nodes ...NetworkNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = append(t.nodes, nodes...)
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// RequestsTo returns the number of requests made to endpoint.
func (t *InMemoryTransport) RequestsTo(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.RequestLog {
		if e.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Reset clears all stored entities and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions = nil
	t.accounts = make(map[string]Account)
	t.contracts = make(map[string]Contract)
	t.blocks = nil
	t.messages = make(map[string][]TopicMessage)
	t.nodes = nil
	t.RequestLog = make([]RequestLogEntry, 0)
}

// Request simulates a mirror node GET request.
func (t *InMemoryTransport) Request(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	t.mu.Lock()
	// Track the call for assertions in unit tests
	t.RequestLog = append(t.RequestLog, RequestLogEntry{
		Endpoint: endpoint,
		Params:   copyParams(params),
	})
	hook := t.Hook
	t.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, endpoint, params); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "transactions":
		return t.listTransactions(params)
	case len(parts) == 2 && parts[0] == "accounts":
		if a, ok := t.accounts[parts[1]]; ok {
			return json.Marshal(a)
		}
	case len(parts) == 2 && parts[0] == "contracts":
		if c, ok := t.contracts[parts[1]]; ok {
			return json.Marshal(c)
		}
	case len(parts) == 1 && parts[0] == "blocks":
		return t.listBlocks(params)
	case len(parts) == 2 && parts[0] == "blocks":
		for _, b := range t.blocks {
			if strconv.FormatInt(b.Number, 10) == parts[1] || b.Hash == parts[1] {
				return json.Marshal(b)
			}
		}
	case len(parts) == 3 && parts[0] == "topics" && parts[2] == "messages":
		return t.listMessages(parts[1], params)
	case len(parts) == 2 && parts[0] == "network" && parts[1] == "nodes":
		return t.listNodes(params)
	}

	return nil, &APIError{StatusCode: 404, Message: `{"_status":{"messages":[{"message":"Not found"}]}}`}
}

func (t *InMemoryTransport) listTransactions(params map[string]string) ([]byte, error) {
	subset := make([]Transaction, 0, len(t.transactions))
	accountID := params["account.id"]
	for _, tx := range t.transactions {
		if accountID != "" && !involves(tx, accountID) {
			continue
		}
		subset = append(subset, tx)
	}
	keys := func(i int) string { return subset[i].ConsensusTimestamp }
	page, err := cursorPage(len(subset), keys, params)
	if err != nil {
		return nil, err
	}
	result := make([]Transaction, len(page))
	for i, idx := range page {
		result[i] = subset[idx]
	}
	return json.Marshal(TransactionsResponse{Transactions: result})
}

func (t *InMemoryTransport) listBlocks(params map[string]string) ([]byte, error) {
	keys := func(i int) string { return t.blocks[i].Timestamp.From }
	page, err := cursorPage(len(t.blocks), keys, params)
	if err != nil {
		return nil, err
	}
	result := make([]Block, len(page))
	for i, idx := range page {
		result[i] = t.blocks[idx]
	}
	return json.Marshal(BlocksResponse{Blocks: result})
}

func (t *InMemoryTransport) listMessages(topicID string, params map[string]string) ([]byte, error) {
	msgs := t.messages[topicID]
	keys := func(i int) string { return msgs[i].ConsensusTimestamp }
	page, err := cursorPage(len(msgs), keys, params)
	if err != nil {
		return nil, err
	}
	result := make([]TopicMessage, len(page))
	for i, idx := range page {
		result[i] = msgs[idx]
	}
	return json.Marshal(TopicMessagesResponse{Messages: result})
}

func (t *InMemoryTransport) listNodes(params map[string]string) ([]byte, error) {
	nodes := make([]NetworkNode, len(t.nodes))
	copy(nodes, t.nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

	var after int64 = -1
	if cursor, ok := params["node.id"]; ok {
		v := strings.TrimPrefix(cursor, OpGt+":")
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &APIError{StatusCode: 400, Message: "invalid node.id"}
		}
		after = parsed
	}
	limit := parseLimit(params, 25)

	page := make([]NetworkNode, 0, limit)
	for _, n := range nodes {
		if n.NodeID > after && len(page) < limit {
			page = append(page, n)
		}
	}

	var next *string
	if len(page) == limit && page[len(page)-1].NodeID < nodes[len(nodes)-1].NodeID {
		link := fmt.Sprintf("/api/v1/network/nodes?limit=%d&node.id=gt:%d", limit, page[len(page)-1].NodeID)
		next = &link
	}
	return json.Marshal(NetworkNodesResponse{Nodes: page, Links: Links{Next: next}})
}

// cursorPage applies the timestamp filter, order and limit parameters to a
// collection of n rows whose cursor is keys(i), returning row indexes.
func cursorPage(n int, keys func(int) string, params map[string]string) ([]int, error) {
	op, bound := "", ""
	if ts, ok := params["timestamp"]; ok && ts != "" {
		if i := strings.Index(ts, ":"); i >= 0 {
			op, bound = ts[:i], ts[i+1:]
		} else {
			op, bound = "eq", ts
		}
	}

	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if bound != "" {
			c := CompareTimestamps(keys(i), bound)
			keep := false
			switch op {
			case "eq":
				keep = c == 0
			case OpLt:
				keep = c < 0
			case OpLte:
				keep = c <= 0
			case OpGt:
				keep = c > 0
			case OpGte:
				keep = c >= 0
			default:
				return nil, &APIError{StatusCode: 400, Message: fmt.Sprintf("invalid operator %q", op)}
			}
			if !keep {
				continue
			}
		}
		idx = append(idx, i)
	}

	desc := params["order"] != OrderAsc
	sort.SliceStable(idx, func(a, b int) bool {
		c := CompareTimestamps(keys(idx[a]), keys(idx[b]))
		if desc {
			return c > 0
		}
		return c < 0
	})

	limit := parseLimit(params, 25)
	if len(idx) > limit {
		idx = idx[:limit]
	}
	return idx, nil
}

func parseLimit(params map[string]string, def int) int {
	if l, ok := params["limit"]; ok && l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// involves reports whether accountID appears in tx's transfers or as its entity.
func involves(tx Transaction, accountID string) bool {
	if tx.EntityID != nil && *tx.EntityID == accountID {
		return true
	}
	for _, tr := range tx.Transfers {
		if tr.Account == accountID {
			return true
		}
	}
	return false
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		result[k] = v
	}
	return result
}
