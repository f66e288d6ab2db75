package analyzer

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/core"
)

// Transaction types with entity-specific handling.
const (
	TypeEthereumTransaction = "ETHEREUMTRANSACTION"
	TypeContractCreate      = "CONTRACTCREATEINSTANCE"
	TypeContractCall        = "CONTRACTCALL"
	TypeContractUpdate      = "CONTRACTUPDATEINSTANCE"
	TypeContractDelete      = "CONTRACTDELETEINSTANCE"
)

// InvalidMaxFee is reported when max_fee is present but not a number.
const InvalidMaxFee = -9999

// systemContracts describes the well-known system contract addresses.
var systemContracts = map[string]string{
	"0.0.359": "Hedera Token Service System Contract",
	"0.0.360": "Exchange Rate System Contract",
	"0.0.361": "PRNG System Contract",
}

// Analysis is the outcome of analyzing one transaction. The zero value means
// no transaction.
type Analysis struct {
	Transaction *api.Transaction `json:"transaction"`
	ContractID  string           `json:"contract_id,omitempty"`
	AccountID   string           `json:"account_id,omitempty"`
	BlockNumber *int64           `json:"block_number"`
}

// TransactionType returns the transaction name, or "".
func (a Analysis) TransactionType() string {
	if a.Transaction == nil {
		return ""
	}
	return a.Transaction.Name
}

// EntityID returns the transaction's entity, or "".
func (a Analysis) EntityID() string {
	if a.Transaction == nil || a.Transaction.EntityID == nil {
		return ""
	}
	return *a.Transaction.EntityID
}

// Result returns the transaction result code, or "".
func (a Analysis) Result() string {
	if a.Transaction == nil {
		return ""
	}
	return a.Transaction.Result
}

// HasSucceeded reports whether the result is SUCCESS.
func (a Analysis) HasSucceeded() bool {
	return a.Result() == "SUCCESS"
}

// MaxFee parses max_fee. Missing is 0; unparseable is InvalidMaxFee.
func (a Analysis) MaxFee() float64 {
	if a.Transaction == nil || a.Transaction.MaxFee == "" {
		return 0
	}
	fee, err := strconv.ParseFloat(a.Transaction.MaxFee, 64)
	if err != nil {
		return InvalidMaxFee
	}
	return fee
}

// NetAmount sums the credited amounts of the transfer list.
func (a Analysis) NetAmount() int64 {
	if a.Transaction == nil {
		return 0
	}
	var total int64
	for _, t := range a.Transaction.Transfers {
		if t.Amount > 0 {
			total += t.Amount
		}
	}
	return total
}

// FormattedTransactionID returns the transaction ID in "0.0.X@S.N" form.
func (a Analysis) FormattedTransactionID() string {
	if a.Transaction == nil || a.Transaction.TransactionID == "" {
		return ""
	}
	return core.NormalizeTransactionID(a.Transaction.TransactionID, true)
}

// FormattedHash returns the transaction hash as hex, or "".
func (a Analysis) FormattedHash() string {
	if a.Transaction == nil || a.Transaction.TransactionHash == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(a.Transaction.TransactionHash)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(raw)
}

// SystemContract names the system contract a CONTRACTCALL targets, or "".
func (a Analysis) SystemContract() string {
	if a.TransactionType() != TypeContractCall {
		return ""
	}
	return systemContracts[a.EntityID()]
}

// EntityDescriptor labels the transaction's entity. A resolved contract or
// account wins; otherwise the label follows the transaction type.
func (a Analysis) EntityDescriptor() string {
	switch {
	case a.ContractID != "":
		return "Contract ID"
	case a.AccountID != "":
		return "Account ID"
	case a.Transaction == nil || a.EntityID() == "":
		return ""
	}
	name := a.Transaction.Name
	switch {
	case strings.HasPrefix(name, "CONTRACT") || name == TypeEthereumTransaction:
		return "Contract ID"
	case strings.HasPrefix(name, "CRYPTO"):
		return "Account ID"
	case strings.HasPrefix(name, "TOKEN"):
		return "Token ID"
	case strings.HasPrefix(name, "CONSENSUS"):
		return "Topic ID"
	case strings.HasPrefix(name, "FILE"):
		return "File ID"
	case strings.HasPrefix(name, "SCHEDULE"):
		return "Schedule ID"
	case strings.HasPrefix(name, "NODE"):
		return "Node ID"
	default:
		return "Entity ID"
	}
}
