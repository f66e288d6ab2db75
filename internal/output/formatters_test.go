package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/colthorp/mirror-explorer-go/internal/analyzer"
	"github.com/colthorp/mirror-explorer-go/internal/api"
)

func TestFormatHbar(t *testing.T) {
	tests := []struct {
		tinybars int64
		want     string
	}{
		{0, "0.00000000 ℏ"},
		{1, "0.00000001 ℏ"},
		{100_000_000, "1.00000000 ℏ"},
		{123_456_789_012, "1,234.56789012 ℏ"},
		{-250_000_000, "-2.50000000 ℏ"},
	}
	for _, tt := range tests {
		if got := FormatHbar(tt.tinybars); got != tt.want {
			t.Errorf("FormatHbar(%d) = %q, want %q", tt.tinybars, got, tt.want)
		}
	}
}

func TestStreamJSON(t *testing.T) {
	ch := make(chan api.NetworkNode, 2)
	ch <- api.NetworkNode{NodeID: 0}
	ch <- api.NetworkNode{NodeID: 1}
	close(ch)

	var buf bytes.Buffer
	if err := StreamJSON(&buf, ch); err != nil {
		t.Fatalf("StreamJSON: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, `[{"node_id":0`) || !strings.HasSuffix(out, "]\n") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Count(out, `"node_id"`) != 2 {
		t.Errorf("expected 2 nodes in %q", out)
	}
}

func TestStreamJSONEmpty(t *testing.T) {
	ch := make(chan int)
	close(ch)
	var buf bytes.Buffer
	if err := StreamJSON(&buf, ch); err != nil {
		t.Fatalf("StreamJSON: %v", err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("got %q, want %q", buf.String(), "[]\n")
	}
}

func TestPrintAnalysis(t *testing.T) {
	entity := "0.0.5005"
	block := int64(42)
	a := analyzer.Analysis{
		Transaction: &api.Transaction{
			ConsensusTimestamp: "1700000000.000000001",
			TransactionID:      "0.0.2-1700000000-000000000",
			Name:               analyzer.TypeContractCall,
			Result:             "SUCCESS",
			EntityID:           &entity,
			MaxFee:             "oops",
			TransactionHash:    "AQID",
		},
		ContractID:  entity,
		BlockNumber: &block,
	}

	var buf bytes.Buffer
	PrintAnalysis(&buf, a)
	out := buf.String()
	for _, want := range []string{"0.0.2@1700000000.000000000", "Contract ID", "0.0.5005", "Block", "42", "invalid (oops)", "0x010203"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	PrintAnalysis(&buf, analyzer.Analysis{})
	if !strings.Contains(buf.String(), "No transaction found") {
		t.Errorf("unexpected output for empty analysis: %q", buf.String())
	}
}

func TestMessagePreview(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		max     int
		want    string
	}{
		{"decodes base64", "aGVsbG8gd29ybGQ=", 60, "hello world"},
		{"collapses whitespace", "aGVsbG8KCndvcmxk", 60, "hello world"},
		{"truncates", "aGVsbG8gd29ybGQ=", 5, "hello…"},
		{"not base64", "plain text!", 60, "plain text!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messagePreview(tt.encoded, tt.max); got != tt.want {
				t.Errorf("messagePreview(%q) = %q, want %q", tt.encoded, got, tt.want)
			}
		})
	}
}

func TestPrintTransactionsShowsBlocks(t *testing.T) {
	txs := []api.Transaction{
		{ConsensusTimestamp: "1700000000.000000002", TransactionID: "0.0.2-1700000000-000000001", Name: "CRYPTOTRANSFER", Result: "SUCCESS"},
		{ConsensusTimestamp: "1700000000.000000001", Name: "CRYPTOTRANSFER", Result: "SUCCESS"},
	}
	var buf bytes.Buffer
	PrintTransactions(&buf, txs, map[string]int64{"1700000000.000000002": 77})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[1]), "77") {
		t.Errorf("first row should carry block 77: %q", lines[1])
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[2]), "-") {
		t.Errorf("second row should have no block: %q", lines[2])
	}
}
