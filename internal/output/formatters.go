// Package output provides output formatting utilities for the mirror explorer.
package output

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/colthorp/mirror-explorer-go/internal/analyzer"
	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const tinybarsPerHbar = 100_000_000

var printer = message.NewPrinter(language.English)

// FormatHbar renders a tinybar amount as hbar with grouped thousands,
// e.g. 123456789012 -> "1,234.56789012 ℏ".
func FormatHbar(tinybars int64) string {
	sign := ""
	abs := uint64(tinybars)
	if tinybars < 0 {
		sign = "-"
		abs = uint64(-tinybars)
	}
	return fmt.Sprintf("%s%s.%08d ℏ", sign, printer.Sprintf("%d", abs/tinybarsPerHbar), abs%tinybarsPerHbar)
}

// FormatCount renders n with grouped thousands.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// StreamJSON writes items from a channel as a compact JSON array.
func StreamJSON[T any](w io.Writer, items <-chan T) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	for item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		if !first {
			io.WriteString(w, ",")
		}
		w.Write(data)
		first = false
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(w io.Writer, item any) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintJSONLine prints item as one compact JSON line, for watch output.
func PrintJSONLine(w io.Writer, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PrintAnalysis prints a transaction and its derived associations.
func PrintAnalysis(w io.Writer, a analyzer.Analysis) {
	tx := a.Transaction
	if tx == nil {
		fmt.Fprintln(w, "No transaction found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Transaction ID\t%s\n", orDash(a.FormattedTransactionID()))
	fmt.Fprintf(tw, "Consensus timestamp\t%s\n", tx.ConsensusTimestamp)
	fmt.Fprintf(tw, "Type\t%s\n", orDash(a.TransactionType()))
	fmt.Fprintf(tw, "Result\t%s\n", orDash(a.Result()))
	if d := a.EntityDescriptor(); d != "" {
		fmt.Fprintf(tw, "%s\t%s\n", d, a.EntityID())
	}
	if sc := a.SystemContract(); sc != "" {
		fmt.Fprintf(tw, "System contract\t%s\n", sc)
	}
	if a.BlockNumber != nil {
		fmt.Fprintf(tw, "Block\t%s\n", FormatCount(*a.BlockNumber))
	}
	fmt.Fprintf(tw, "Charged fee\t%s\n", FormatHbar(tx.ChargedTxFee))
	switch fee := a.MaxFee(); fee {
	case analyzer.InvalidMaxFee:
		fmt.Fprintf(tw, "Max fee\tinvalid (%s)\n", tx.MaxFee)
	default:
		fmt.Fprintf(tw, "Max fee\t%s\n", FormatHbar(int64(fee)))
	}
	fmt.Fprintf(tw, "Net amount\t%s\n", FormatHbar(a.NetAmount()))
	if h := a.FormattedHash(); h != "" {
		fmt.Fprintf(tw, "Hash\t0x%s\n", h)
	}
	tw.Flush()

	if len(tx.Transfers) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "ACCOUNT\tAMOUNT\t")
		for _, t := range tx.Transfers {
			fmt.Fprintf(tw, "%s\t%s\t\n", t.Account, FormatHbar(t.Amount))
		}
		tw.Flush()
	}
}

// PrintAccount prints an account summary.
func PrintAccount(w io.Writer, a api.Account) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Account\t%s\n", a.Account)
	if a.Balance != nil {
		fmt.Fprintf(tw, "Balance\t%s\n", FormatHbar(a.Balance.Balance))
		fmt.Fprintf(tw, "Balance at\t%s\n", a.Balance.Timestamp)
	}
	fmt.Fprintf(tw, "EVM address\t%s\n", orDash(a.EvmAddress))
	fmt.Fprintf(tw, "Created\t%s\n", orDash(deref(a.CreatedTimestamp)))
	fmt.Fprintf(tw, "Memo\t%s\n", orDash(a.Memo))
	if a.Deleted {
		fmt.Fprintln(tw, "Deleted\tyes")
	}
	tw.Flush()
}

// PrintContract prints a contract summary.
func PrintContract(w io.Writer, c api.Contract) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Contract\t%s\n", c.ContractID)
	fmt.Fprintf(tw, "EVM address\t%s\n", orDash(c.EvmAddress))
	fmt.Fprintf(tw, "File\t%s\n", orDash(deref(c.FileID)))
	fmt.Fprintf(tw, "Created\t%s\n", orDash(deref(c.CreatedTimestamp)))
	fmt.Fprintf(tw, "Memo\t%s\n", orDash(c.Memo))
	if c.Deleted {
		fmt.Fprintln(tw, "Deleted\tyes")
	}
	tw.Flush()
}

// PrintBlock prints a block summary.
func PrintBlock(w io.Writer, b api.Block) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Block\t%s\n", FormatCount(b.Number))
	fmt.Fprintf(tw, "Hash\t%s\n", b.Hash)
	fmt.Fprintf(tw, "From\t%s\n", b.Timestamp.From)
	fmt.Fprintf(tw, "To\t%s\n", orDash(deref(b.Timestamp.To)))
	fmt.Fprintf(tw, "Transactions\t%d\n", b.Count)
	fmt.Fprintf(tw, "Gas used\t%s\n", FormatCount(b.GasUsed))
	tw.Flush()
}

// messagePreview decodes a base64 message body, falling back to the raw
// text when it is not printable UTF-8.
func messagePreview(encoded string, max int) string {
	text := encoded
	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil && utf8.Valid(raw) {
		text = string(raw)
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max]) + "…"
	}
	return text
}

// PrintMessages prints one page of topic messages.
func PrintMessages(w io.Writer, msgs []api.TopicMessage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIMESTAMP\tPAYER\tMESSAGE")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.SequenceNumber, m.ConsensusTimestamp, orDash(m.PayerAccountID), messagePreview(m.Message, 60))
	}
	tw.Flush()
}

// PrintTransactions prints one page of transactions. blocks maps consensus
// timestamps to block numbers and may be nil.
func PrintTransactions(w io.Writer, txs []api.Transaction, blocks map[string]int64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tID\tTYPE\tRESULT\tBLOCK")
	for _, tx := range txs {
		block := "-"
		if n, ok := blocks[tx.ConsensusTimestamp]; ok {
			block = strconv.FormatInt(n, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.ConsensusTimestamp, analyzer.Analysis{Transaction: &tx}.FormattedTransactionID(), tx.Name, tx.Result, block)
	}
	tw.Flush()
}

// PrintNodes prints the network node list.
func PrintNodes(w io.Writer, nodes []api.NetworkNode) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tACCOUNT\tSTAKE\tDESCRIPTION")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", n.NodeID, n.NodeAccountID, FormatHbar(n.Stake), n.Description)
	}
	tw.Flush()
}

// PrintStats prints lookup cache statistics.
func PrintStats(w io.Writer, stats []cache.CacheStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tRESIDENT\tSTORED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Name, s.Resident, s.Stored)
	}
	tw.Flush()
}
