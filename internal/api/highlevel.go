package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/colthorp/mirror-explorer-go/internal/core"
)

// Sort orders accepted by the mirror node.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Boundary operators for cursor parameters such as timestamp.
const (
	OpLt  = "lt"
	OpLte = "lte"
	OpGt  = "gt"
	OpGte = "gte"
)

// PageQuery describes one page request against a cursor-ordered collection.
type PageQuery struct {
	Limit     int
	Order     string
	Operator  string // empty means equality
	Timestamp string // empty means no cursor
}

// Params renders the query as mirror node query parameters.
func (q PageQuery) Params() map[string]string {
	params := make(map[string]string)
	limit := q.Limit
	if limit <= 0 {
		limit = core.PageLimit
	}
	if limit > core.MaxPageLimit {
		limit = core.MaxPageLimit
	}
	params["limit"] = strconv.Itoa(limit)
	if q.Order != "" {
		params["order"] = q.Order
	}
	if q.Timestamp != "" {
		if q.Operator != "" {
			params["timestamp"] = q.Operator + ":" + q.Timestamp
		} else {
			params["timestamp"] = q.Timestamp
		}
	}
	return params
}

// MirrorAPI provides a typed convenience layer over the mirror node REST API.
type MirrorAPI struct {
	transport Transport
	verbose   bool
}

// NewMirrorAPI creates a new high-level API client over transport.
func NewMirrorAPI(transport Transport) *MirrorAPI {
	api := &MirrorAPI{
		transport: transport,
	}
	// Check if transport has verbose flag
	if c, ok := transport.(*Client); ok {
		api.verbose = c.IsVerbose()
	}
	return api
}

// log writes a message to stderr if verbose mode is enabled.
func (api *MirrorAPI) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), api.verbose)
}

func (api *MirrorAPI) getJSON(ctx context.Context, endpoint string, params map[string]string, out any) error {
	body, err := api.transport.Request(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON response from %s: %w", endpoint, err)
	}
	return nil
}

// TransactionByTimestamp returns the transaction with the given consensus timestamp.
func (api *MirrorAPI) TransactionByTimestamp(ctx context.Context, timestamp string) (*Transaction, error) {
	var resp TransactionsResponse
	if err := api.getJSON(ctx, "transactions", map[string]string{"timestamp": timestamp}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Transactions) == 0 {
		return nil, fmt.Errorf("transaction at %s: %w", timestamp, ErrNotFound)
	}
	return &resp.Transactions[0], nil
}

// Account fetches a single account by ID.
func (api *MirrorAPI) Account(ctx context.Context, id string) (*Account, error) {
	var account Account
	if err := api.getJSON(ctx, fmt.Sprintf("accounts/%s", id), map[string]string{"transactions": "false"}, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Contract fetches a single contract by ID.
func (api *MirrorAPI) Contract(ctx context.Context, id string) (*Contract, error) {
	var contract Contract
	if err := api.getJSON(ctx, fmt.Sprintf("contracts/%s", id), nil, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

// BlockByTimestamp returns the block whose consensus range contains timestamp.
func (api *MirrorAPI) BlockByTimestamp(ctx context.Context, timestamp string) (*Block, error) {
	query := PageQuery{Limit: 1, Order: OrderDesc, Operator: OpLte, Timestamp: timestamp}
	var resp BlocksResponse
	if err := api.getJSON(ctx, "blocks", query.Params(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("block containing %s: %w", timestamp, ErrNotFound)
	}
	block := resp.Blocks[0]
	if block.Timestamp.To != nil && CompareTimestamps(*block.Timestamp.To, timestamp) < 0 {
		return nil, fmt.Errorf("block containing %s: %w", timestamp, ErrNotFound)
	}
	return &block, nil
}

// BlockByNumber fetches a block by number (or hash).
func (api *MirrorAPI) BlockByNumber(ctx context.Context, hashOrNumber string) (*Block, error) {
	var block Block
	if err := api.getJSON(ctx, fmt.Sprintf("blocks/%s", hashOrNumber), nil, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// TopicMessages fetches one page of messages for topicID.
func (api *MirrorAPI) TopicMessages(ctx context.Context, topicID string, query PageQuery) ([]TopicMessage, error) {
	var resp TopicMessagesResponse
	if err := api.getJSON(ctx, fmt.Sprintf("topics/%s/messages", topicID), query.Params(), &resp); err != nil {
		return nil, err
	}
	api.log(fmt.Sprintf("Topic %s: %d messages returned", topicID, len(resp.Messages)))
	if resp.Messages == nil {
		resp.Messages = []TopicMessage{}
	}
	return resp.Messages, nil
}

// Transactions fetches one page of transactions, optionally filtered by account.
func (api *MirrorAPI) Transactions(ctx context.Context, accountID string, query PageQuery) ([]Transaction, error) {
	params := query.Params()
	if accountID != "" {
		params["account.id"] = accountID
	}
	var resp TransactionsResponse
	if err := api.getJSON(ctx, "transactions", params, &resp); err != nil {
		return nil, err
	}
	if resp.Transactions == nil {
		resp.Transactions = []Transaction{}
	}
	return resp.Transactions, nil
}

// NetworkNodes fetches every network node, following links.next.
func (api *MirrorAPI) NetworkNodes(ctx context.Context, maxResults int) ([]NetworkNode, error) {
	return paginate(ctx, api, "network/nodes", map[string]string{"limit": "25"}, maxResults,
		func(body []byte) ([]NetworkNode, *string, error) {
			var resp NetworkNodesResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, nil, err
			}
			return resp.Nodes, resp.Links.Next, nil
		})
}

// paginate collects items across paginated responses.
// Transparently handles mirror node "links.next" mechanics.
func paginate[T any](ctx context.Context, api *MirrorAPI, endpoint string, params map[string]string, maxResults int,
	extract func([]byte) ([]T, *string, error)) ([]T, error) {

	items := make([]T, 0)
	pagesCount := 0

	for {
		body, err := api.transport.Request(ctx, endpoint, params)
		if err != nil {
			api.log(fmt.Sprintf("Pagination error: %v", err))
			return nil, err
		}
		pagesCount++

		page, next, err := extract(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %d of %s: %w", pagesCount, endpoint, err)
		}

		api.log(fmt.Sprintf("Fetched page %d: %d items, total so far %d", pagesCount, len(page), len(items)+len(page)))

		for _, item := range page {
			if maxResults > 0 && len(items) >= maxResults {
				api.log(fmt.Sprintf("Pagination complete: reached max_results limit of %d after %d pages", maxResults, pagesCount))
				return items, nil
			}
			items = append(items, item)
		}

		if len(page) == 0 || next == nil || *next == "" || (maxResults > 0 && len(items) >= maxResults) {
			break
		}

		endpoint, params, err = parseNextLink(*next)
		if err != nil {
			return nil, err
		}
	}

	api.log(fmt.Sprintf("Pagination complete: %d total items across %d pages", len(items), pagesCount))
	return items, nil
}

// CompareTimestamps orders two mirror timestamps (-1, 0, 1), falling back to
// string order when either is malformed.
func CompareTimestamps(a, b string) int {
	ta, errA := core.ParseTimestamp(a)
	tb, errB := core.ParseTimestamp(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return ta.Compare(tb)
}
