package table

import (
	"context"

	"github.com/colthorp/mirror-explorer-go/internal/api"
)

// TopicMessageSource pages through a topic's messages, newest first.
type TopicMessageSource struct {
	API     *api.MirrorAPI
	TopicID func() string // empty means no topic is selected
}

func (s TopicMessageSource) topic() string {
	if s.TopicID == nil {
		return ""
	}
	return s.TopicID()
}

// LoadAfter returns messages older than cursor.
func (s TopicMessageSource) LoadAfter(ctx context.Context, cursor *string, limit int) ([]api.TopicMessage, bool, error) {
	id := s.topic()
	if id == "" {
		return nil, false, nil
	}
	q := api.PageQuery{Limit: limit, Order: api.OrderDesc}
	if cursor != nil {
		q.Operator, q.Timestamp = api.OpLt, *cursor
	}
	rows, err := s.API.TopicMessages(ctx, id, q)
	return rows, true, err
}

// LoadBefore returns the newest messages down to cursor, inclusive.
func (s TopicMessageSource) LoadBefore(ctx context.Context, cursor string, limit int) ([]api.TopicMessage, bool, error) {
	id := s.topic()
	if id == "" {
		return nil, false, nil
	}
	q := api.PageQuery{Limit: limit, Order: api.OrderDesc, Operator: api.OpGte, Timestamp: cursor}
	rows, err := s.API.TopicMessages(ctx, id, q)
	return rows, true, err
}

// KeyFor returns the consensus timestamp of m.
func (s TopicMessageSource) KeyFor(m api.TopicMessage) string {
	return m.ConsensusTimestamp
}

// TransactionSource pages through transactions, newest first, optionally
// restricted to those involving one account.
type TransactionSource struct {
	API       *api.MirrorAPI
	AccountID func() string // nil or empty lists every transaction
}

func (s TransactionSource) account() string {
	if s.AccountID == nil {
		return ""
	}
	return s.AccountID()
}

// LoadAfter returns transactions older than cursor.
func (s TransactionSource) LoadAfter(ctx context.Context, cursor *string, limit int) ([]api.Transaction, bool, error) {
	q := api.PageQuery{Limit: limit, Order: api.OrderDesc}
	if cursor != nil {
		q.Operator, q.Timestamp = api.OpLt, *cursor
	}
	rows, err := s.API.Transactions(ctx, s.account(), q)
	return rows, true, err
}

// LoadBefore returns the newest transactions down to cursor, inclusive.
func (s TransactionSource) LoadBefore(ctx context.Context, cursor string, limit int) ([]api.Transaction, bool, error) {
	q := api.PageQuery{Limit: limit, Order: api.OrderDesc, Operator: api.OpGte, Timestamp: cursor}
	rows, err := s.API.Transactions(ctx, s.account(), q)
	return rows, true, err
}

// KeyFor returns the consensus timestamp of tx.
func (s TransactionSource) KeyFor(tx api.Transaction) string {
	return tx.ConsensusTimestamp
}

// Fixed returns a key getter that always yields v.
func Fixed(v string) func() string {
	return func() string { return v }
}

// NewTopicMessageController pages through the messages of the topic
// currently returned by topicID.
func NewTopicMessageController(mirror *api.MirrorAPI, topicID func() string, cfg Config) *Controller[api.TopicMessage, string] {
	if cfg.Name == "" {
		cfg.Name = "topic-messages"
	}
	return NewController[api.TopicMessage, string](TopicMessageSource{API: mirror, TopicID: topicID}, cfg)
}

// NewTransactionController pages through transactions, filtered by the
// account currently returned by accountID.
func NewTransactionController(mirror *api.MirrorAPI, accountID func() string, cfg Config) *Controller[api.Transaction, string] {
	if cfg.Name == "" {
		cfg.Name = "transactions"
	}
	return NewController[api.Transaction, string](TransactionSource{API: mirror, AccountID: accountID}, cfg)
}
