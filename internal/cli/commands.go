package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"syscall"

	"github.com/colthorp/mirror-explorer-go/internal/analyzer"
	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/observable"
	"github.com/colthorp/mirror-explorer-go/internal/output"
	"github.com/colthorp/mirror-explorer-go/internal/table"
	"github.com/spf13/cobra"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(transactionCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(contractCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(topicCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(watchAccountCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)

	// Topic command flags
	topicCmd.Flags().IntP("pages", "p", 1, "Number of pages to print")
	topicCmd.Flags().Bool("live", false, "Keep refreshing the newest messages")

	// Transactions command flags
	transactionsCmd.Flags().String("account", "", "Only transactions involving this account")
	transactionsCmd.Flags().IntP("pages", "p", 1, "Number of pages to print")
	transactionsCmd.Flags().Int("parallel", core.PrefetchMaxWorkers, "Max block lookups in parallel")

	// Polling command flags
	for _, cmd := range []*cobra.Command{nodesCmd, watchAccountCmd} {
		cmd.Flags().Duration("period", 0, "Refresh period (default from MIRROR_POLL_PERIOD)")
		cmd.Flags().Int("max-updates", 0, "Refreshes before stopping; negative never stops (default from MIRROR_MAX_UPDATES)")
	}
	nodesCmd.Flags().Bool("watch", false, "Keep refreshing the node list")
}

// transactionCmd analyzes a single transaction
var transactionCmd = &cobra.Command{
	Use:   "transaction [timestamp]",
	Short: "Show a transaction by consensus timestamp, with its contract, account and block",
	Args:  cobra.ExactArgs(1),
	RunE:  handleTransaction,
}

// accountCmd looks up an account
var accountCmd = &cobra.Command{
	Use:   "account [id]",
	Short: "Show an account",
	Args:  cobra.ExactArgs(1),
	RunE:  handleAccount,
}

// contractCmd looks up a contract
var contractCmd = &cobra.Command{
	Use:   "contract [id]",
	Short: "Show a contract",
	Args:  cobra.ExactArgs(1),
	RunE:  handleContract,
}

// blockCmd looks up a block by number or by a timestamp it contains
var blockCmd = &cobra.Command{
	Use:   "block [number|timestamp]",
	Short: "Show a block by number or by a consensus timestamp it contains",
	Args:  cobra.ExactArgs(1),
	RunE:  handleBlock,
}

// topicCmd pages through topic messages
var topicCmd = &cobra.Command{
	Use:   "topic [topic_id]",
	Short: "List a topic's messages, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  handleTopic,
}

// transactionsCmd pages through transactions
var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List recent transactions, newest first",
	Args:  cobra.NoArgs,
	RunE:  handleTransactions,
}

// nodesCmd lists the network nodes
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the network's consensus nodes",
	Args:  cobra.NoArgs,
	RunE:  handleNodes,
}

// watchAccountCmd polls an account
var watchAccountCmd = &cobra.Command{
	Use:   "watch-account [id]",
	Short: "Print an account's balance as it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  handleWatchAccount,
}

// cacheCmd reports cache statistics
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show how many entities the persistent store holds",
	Args:  cobra.NoArgs,
	RunE:  handleCache,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	RunE:  handleMCP,
}

// commandContext returns a context cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func handleTransaction(cmd *cobra.Command, args []string) error {
	ts, err := core.ParseTimestampSpec(args[0], core.GetTZ(timezone))
	if err != nil {
		return err
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	core.ProgressPrint(fmt.Sprintf("Analyzing transaction at %s…", ts), quiet)
	a := analyzer.New(analyzer.FromManager(e.manager), observable.NewComparable(""), verbose)
	result, err := a.Analyze(ctx, ts)
	if err != nil {
		return err
	}
	if result.Transaction == nil {
		return fmt.Errorf("transaction at %s: %w", ts, api.ErrNotFound)
	}

	out := cmd.OutOrStdout()
	if raw {
		return output.PrintJSON(out, result)
	}
	output.PrintAnalysis(out, result)
	return nil
}

func handleAccount(cmd *cobra.Command, args []string) error {
	id, err := core.ParseEntityID(args[0])
	if err != nil {
		return err
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	account, ok := e.manager.AccountByID.Lookup(ctx, id)
	if !ok {
		return fmt.Errorf("account %s: %w", id, api.ErrNotFound)
	}
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), account)
	}
	output.PrintAccount(cmd.OutOrStdout(), account)
	return nil
}

func handleContract(cmd *cobra.Command, args []string) error {
	id, err := core.ParseEntityID(args[0])
	if err != nil {
		return err
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	contract, ok := e.manager.ContractByID.Lookup(ctx, id)
	if !ok {
		return fmt.Errorf("contract %s: %w", id, api.ErrNotFound)
	}
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), contract)
	}
	output.PrintContract(cmd.OutOrStdout(), contract)
	return nil
}

func handleBlock(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var (
		block api.Block
		ok    bool
	)
	if n, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
		block, ok = e.manager.BlockByNumber.Lookup(ctx, n)
	} else {
		ts, err := core.ParseTimestampSpec(args[0], core.GetTZ(timezone))
		if err != nil {
			return err
		}
		block, ok = e.manager.BlockByTs.Lookup(ctx, ts)
	}
	if !ok {
		return fmt.Errorf("block %s: %w", args[0], api.ErrNotFound)
	}
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), block)
	}
	output.PrintBlock(cmd.OutOrStdout(), block)
	return nil
}

// tableConfig derives the paging configuration from the loaded settings.
func (e *explorer) tableConfig() table.Config {
	return table.Config{
		PageSize:       e.cfg.PageSize,
		FetchTimeout:   core.PageFetchTimeout,
		UpdatePeriod:   e.cfg.PollPeriod,
		MaxUpdateCount: e.cfg.MaxUpdateCount,
		Verbose:        verbose,
	}
}

// printPages prints up to pages pages from c, starting at its head, passing
// each page to emit. It stops early at the end of the data.
func printPages[Row any, Key comparable](ctx context.Context, c *table.Controller[Row, Key], pages int, emit func([]Row)) error {
	if err := c.Reload(ctx); err != nil {
		return err
	}
	for i := 0; ; i++ {
		emit(c.Rows())
		if i+1 >= pages || c.AtEnd() {
			return nil
		}
		before := c.Offset()
		if err := c.NextPage(ctx); err != nil {
			return err
		}
		if c.Offset() == before {
			// The source ran dry exactly at a page boundary.
			return nil
		}
	}
}

func handleTopic(cmd *cobra.Command, args []string) error {
	topicID, err := core.ParseEntityID(args[0])
	if err != nil {
		return err
	}
	pages, _ := cmd.Flags().GetInt("pages")
	live, _ := cmd.Flags().GetBool("live")

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	c := table.NewTopicMessageController(e.manager.API(), table.Fixed(topicID), e.tableConfig())
	defer c.Close()

	emit := func(rows []api.TopicMessage) {
		if raw {
			for _, m := range rows {
				output.PrintJSONLine(out, m)
			}
			return
		}
		output.PrintMessages(out, rows)
	}
	if err := printPages(ctx, c, pages, emit); err != nil {
		return err
	}
	if !live {
		return nil
	}

	core.ProgressPrint(fmt.Sprintf("Watching topic %s for new messages…", topicID), quiet)
	// Back to the head so live refreshes are merged into the visible page.
	for c.Offset() > 0 {
		if err := c.PreviousPage(ctx); err != nil {
			return err
		}
	}
	seen := ""
	if rows := c.Rows(); len(rows) > 0 {
		seen = rows[0].ConsensusTimestamp
	}

	changed := make(chan struct{}, 1)
	unwatch := c.Page.Subscribe(func([]api.TopicMessage) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, false)
	defer unwatch()
	stopped, unwatchState := untilStopped(c.LiveStateValue())
	defer unwatchState()

	feed := func() {
		fresh, err := newTopicMessages(ctx, e.manager.API(), topicID, c.Rows(), seen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if len(fresh) > 0 {
			seen = fresh[0].ConsensusTimestamp
			emit(fresh)
		}
	}

	c.StartLive()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			feed()
		case <-stopped:
			select {
			case <-changed:
				feed()
			default:
			}
			return nil
		}
	}
}

// newTopicMessages returns the messages of head newer than seen, newest
// first. When all of head is newer than seen, more messages arrived than one
// page holds, and the ones in between are fetched so none are skipped. On a
// fetch error the rows from head are still returned.
func newTopicMessages(ctx context.Context, mirror *api.MirrorAPI, topicID string, head []api.TopicMessage, seen string) ([]api.TopicMessage, error) {
	var fresh []api.TopicMessage
	for _, m := range head {
		if seen != "" && api.CompareTimestamps(m.ConsensusTimestamp, seen) <= 0 {
			return fresh, nil
		}
		fresh = append(fresh, m)
	}
	if seen == "" || len(fresh) == 0 {
		return fresh, nil
	}

	oldest := fresh[len(fresh)-1].ConsensusTimestamp
	var missed []api.TopicMessage
	cursor := seen
	for {
		page, err := mirror.TopicMessages(ctx, topicID, api.PageQuery{
			Limit:     core.MaxPageLimit,
			Order:     api.OrderAsc,
			Operator:  api.OpGt,
			Timestamp: cursor,
		})
		if err != nil {
			return fresh, fmt.Errorf("backfill topic %s: %w", topicID, err)
		}
		for _, m := range page {
			if api.CompareTimestamps(m.ConsensusTimestamp, oldest) >= 0 {
				slices.Reverse(missed)
				return append(fresh, missed...), nil
			}
			missed = append(missed, m)
		}
		if len(page) < core.MaxPageLimit {
			break
		}
		cursor = page[len(page)-1].ConsensusTimestamp
	}
	slices.Reverse(missed)
	return append(fresh, missed...), nil
}

// untilStopped returns a channel closed the first time state changes to
// anything but Started. Subscribe before starting the poller.
func untilStopped(state *observable.Value[cache.PollingState]) (stopped <-chan struct{}, cancel func()) {
	ch := make(chan struct{})
	var once sync.Once
	cancel = state.Subscribe(func(s cache.PollingState) {
		if s != cache.Started {
			once.Do(func() { close(ch) })
		}
	}, false)
	return ch, cancel
}

func handleTransactions(cmd *cobra.Command, args []string) error {
	pages, _ := cmd.Flags().GetInt("pages")
	parallel, _ := cmd.Flags().GetInt("parallel")
	accountID, _ := cmd.Flags().GetString("account")
	if accountID != "" {
		id, err := core.ParseEntityID(accountID)
		if err != nil {
			return err
		}
		accountID = id
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	c := table.NewTransactionController(e.manager.API(), table.Fixed(accountID), e.tableConfig())

	if raw {
		rows := make(chan api.Transaction)
		var pageErr error
		go func() {
			defer close(rows)
			pageErr = printPages(ctx, c, pages, func(page []api.Transaction) {
				for _, tx := range page {
					rows <- tx
				}
			})
		}()
		if err := output.StreamJSON(out, rows); err != nil {
			return err
		}
		return pageErr
	}

	return printPages(ctx, c, pages, func(page []api.Transaction) {
		timestamps := make([]string, len(page))
		for i, tx := range page {
			timestamps[i] = tx.ConsensusTimestamp
		}
		blocks := e.manager.WarmBlocks(ctx, timestamps, parallel)
		output.PrintTransactions(out, page, blocks)
	})
}

// withPollFlags applies --period and --max-updates over the loaded settings.
func withPollFlags(cmd *cobra.Command) func(*core.Config) {
	return func(cfg *core.Config) {
		if period, _ := cmd.Flags().GetDuration("period"); period > 0 {
			cfg.PollPeriod = period
		}
		if maxUpdates, _ := cmd.Flags().GetInt("max-updates"); maxUpdates != 0 {
			cfg.MaxUpdateCount = maxUpdates
		}
	}
}

// watch starts p and prints every entity it produces until it stops by
// itself or ctx ends.
func watch[E any](ctx context.Context, p *cache.Poller[E], emit func(E)) error {
	stopped, unwatchState := untilStopped(p.StateValue)
	defer unwatchState()
	unwatchEntity := p.EntityValue.Subscribe(emit, false)
	defer unwatchEntity()
	unwatchErr := p.ErrValue.Subscribe(func(err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: refresh failed: %v\n", err)
		}
	}, false)
	defer unwatchErr()

	p.Start()
	defer p.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-stopped:
		return p.Err()
	}
}

func handleNodes(cmd *cobra.Command, args []string) error {
	watchNodes, _ := cmd.Flags().GetBool("watch")

	e, err := setup(withPollFlags(cmd))
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	emit := func(nodes []api.NetworkNode) { printNodes(out, nodes) }
	if !watchNodes {
		nodes, err := e.manager.API().NetworkNodes(ctx, 0)
		if err != nil {
			return err
		}
		emit(nodes)
		return nil
	}

	core.ProgressPrint(fmt.Sprintf("Refreshing nodes every %s…", e.cfg.PollPeriod), quiet)
	return watch(ctx, e.manager.NodesPoller(), emit)
}

func printNodes(out io.Writer, nodes []api.NetworkNode) {
	if raw {
		output.PrintJSONLine(out, nodes)
		return
	}
	output.PrintNodes(out, nodes)
}

func handleWatchAccount(cmd *cobra.Command, args []string) error {
	id, err := core.ParseEntityID(args[0])
	if err != nil {
		return err
	}
	e, err := setup(withPollFlags(cmd))
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	var last *int64
	core.ProgressPrint(fmt.Sprintf("Watching account %s every %s…", id, e.cfg.PollPeriod), quiet)
	return watch(ctx, e.manager.AccountPoller(id), func(a api.Account) {
		if raw {
			output.PrintJSONLine(out, a)
			return
		}
		if a.Balance == nil {
			fmt.Fprintf(out, "%s\tno balance\n", a.Account)
			return
		}
		change := ""
		if last != nil && *last != a.Balance.Balance {
			change = fmt.Sprintf("\t(%s)", output.FormatHbar(a.Balance.Balance-*last))
		}
		bal := a.Balance.Balance
		last = &bal
		fmt.Fprintf(out, "%s\t%s\t%s%s\n", a.Balance.Timestamp, a.Account, output.FormatHbar(bal), change)
	})
}

func handleCache(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.Store == core.StoreNone {
		core.ProgressPrint("No persistent store configured (use --store fs or --store sqlite)", quiet)
	}
	stats := e.manager.Stats()
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), stats)
	}
	output.PrintStats(cmd.OutOrStdout(), stats)
	return nil
}

func handleMCP(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()
	return runMCPServer(ctx, e)
}
