package ledger

import "time"

// FaultType 照合で検出された不整合の種類
type FaultType string

const (
	// FaultLedgerMismatch 確定済みトランザクションの合計と残高が一致しない
	FaultLedgerMismatch FaultType = "ledger_mismatch"
	// FaultInvariantViolation balance != totalDeposited - totalSpent
	FaultInvariantViolation FaultType = "invariant_violation"
)

// Fault 照合で検出された不整合
type Fault struct {
	Type     FaultType `json:"type"`
	Expected int64     `json:"expected"`
	Actual   int64     `json:"actual"`
	Message  string    `json:"message"`
}

// ReconciliationReport ウォレット1件の照合結果
type ReconciliationReport struct {
	WalletID       string    `json:"wallet_id"`
	Balance        int64     `json:"balance"`
	TotalDeposited int64     `json:"total_deposited"`
	TotalSpent     int64     `json:"total_spent"`
	LedgerSum      int64     `json:"ledger_sum"`
	PendingCount   int       `json:"pending_count"`
	Faults         []Fault   `json:"faults"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Consistent 不整合がないかどうかを返す
func (r *ReconciliationReport) Consistent() bool {
	return len(r.Faults) == 0
}

// SweepResult スイープの結果
type SweepResult struct {
	FailedTransactionIDs []string                `json:"failed_transaction_ids"`
	Reports              []*ReconciliationReport `json:"reports"`
}
