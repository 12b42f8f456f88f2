package transaction

import (
	"errors"
	"regexp"
	"time"
)

var (
	// ErrInvalidTransactionID トランザクションIDが無効
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	// ErrInvalidWalletID ウォレットIDが無効
	ErrInvalidWalletID = errors.New("invalid wallet id")
	// ErrInvalidIdempotencyKey 冪等キーが無効
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	// ErrInvalidAmount 金額が無効
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountTooLarge 金額が大きすぎる
	ErrAmountTooLarge = errors.New("amount too large")
)

const (
	// MaxAmount 最大金額 (10兆)
	MaxAmount = 10_000_000_000_000
)

// RefundIdempotencyKey 購入に対する返金トランザクションの冪等キー（refund:<購入トランザクションID>）
func RefundIdempotencyKey(purchaseTransactionID string) string {
	return "refund:" + purchaseTransactionID
}

var (
	idRegex  = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)
	keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@:]{1,255}$`)
)

// Transaction トランザクションエンティティ（台帳の1行）
type Transaction struct {
	transactionID        string
	walletID             string
	transactionType      TransactionType
	amount               int64 // 最小通貨単位の整数値
	status               TransactionStatus
	idempotencyKey       string
	relatedTicketID      *string
	relatedTransactionID *string // 返金元の購入トランザクション
	relatedEventID       *string // 購入対象のイベント
	externalRef          *string // 外部決済の参照ID
	createdAt            time.Time
	completedAt          *time.Time
}

// NewTransaction 新しいpendingトランザクションを作成
func NewTransaction(
	transactionID string,
	walletID string,
	transactionType TransactionType,
	amount int64,
	idempotencyKey string,
) (*Transaction, error) {
	if !idRegex.MatchString(transactionID) {
		return nil, ErrInvalidTransactionID
	}
	if !idRegex.MatchString(walletID) {
		return nil, ErrInvalidWalletID
	}
	if !transactionType.Valid() {
		return nil, ErrInvalidTransactionType
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > MaxAmount {
		return nil, ErrAmountTooLarge
	}
	if !keyRegex.MatchString(idempotencyKey) {
		return nil, ErrInvalidIdempotencyKey
	}

	return &Transaction{
		transactionID:   transactionID,
		walletID:        walletID,
		transactionType: transactionType,
		amount:          amount,
		status:          TransactionStatusPending,
		idempotencyKey:  idempotencyKey,
		createdAt:       time.Now().UTC(),
	}, nil
}

// ReconstructTransaction 永続化された値からTransactionを復元（リポジトリ用）
func ReconstructTransaction(
	transactionID string,
	walletID string,
	transactionType TransactionType,
	amount int64,
	status TransactionStatus,
	idempotencyKey string,
	relatedTicketID *string,
	relatedTransactionID *string,
	relatedEventID *string,
	externalRef *string,
	createdAt time.Time,
	completedAt *time.Time,
) *Transaction {
	return &Transaction{
		transactionID:        transactionID,
		walletID:             walletID,
		transactionType:      transactionType,
		amount:               amount,
		status:               status,
		idempotencyKey:       idempotencyKey,
		relatedTicketID:      relatedTicketID,
		relatedTransactionID: relatedTransactionID,
		relatedEventID:       relatedEventID,
		externalRef:          externalRef,
		createdAt:            createdAt,
		completedAt:          completedAt,
	}
}

// TransactionID トランザクションIDを返す
func (t *Transaction) TransactionID() string {
	return t.transactionID
}

// WalletID ウォレットIDを返す
func (t *Transaction) WalletID() string {
	return t.walletID
}

// TransactionType トランザクションタイプを返す
func (t *Transaction) TransactionType() TransactionType {
	return t.transactionType
}

// Amount 金額を返す
func (t *Transaction) Amount() int64 {
	return t.amount
}

// SignedAmount 残高への影響を符号付きで返す
func (t *Transaction) SignedAmount() int64 {
	if t.transactionType.IsCredit() {
		return t.amount
	}
	return -t.amount
}

// Status ステータスを返す
func (t *Transaction) Status() TransactionStatus {
	return t.status
}

// IdempotencyKey 冪等キーを返す
func (t *Transaction) IdempotencyKey() string {
	return t.idempotencyKey
}

// RelatedTicketID 関連チケットIDを返す
func (t *Transaction) RelatedTicketID() *string {
	return t.relatedTicketID
}

// RelatedTransactionID 関連トランザクションIDを返す
func (t *Transaction) RelatedTransactionID() *string {
	return t.relatedTransactionID
}

// RelatedEventID 関連イベントIDを返す
func (t *Transaction) RelatedEventID() *string {
	return t.relatedEventID
}

// ExternalRef 外部参照IDを返す
func (t *Transaction) ExternalRef() *string {
	return t.externalRef
}

// CreatedAt 作成日時を返す
func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

// CompletedAt 確定日時を返す
func (t *Transaction) CompletedAt() *time.Time {
	return t.completedAt
}

// SetRelatedTicketID 関連チケットIDを設定
func (t *Transaction) SetRelatedTicketID(id string) {
	t.relatedTicketID = &id
}

// SetRelatedTransactionID 関連トランザクションIDを設定
func (t *Transaction) SetRelatedTransactionID(id string) {
	t.relatedTransactionID = &id
}

// SetRelatedEventID 関連イベントIDを設定
func (t *Transaction) SetRelatedEventID(id string) {
	t.relatedEventID = &id
}

// SetExternalRef 外部参照IDを設定
func (t *Transaction) SetExternalRef(ref string) {
	if ref == "" {
		return
	}
	t.externalRef = &ref
}

// Finalize pendingから終端状態へ遷移させる
// 同じ結果で確定済みの場合は何もせずfalseを返し、異なる結果の場合はErrFinalizeConflict
func (t *Transaction) Finalize(outcome TransactionStatus, at time.Time) (bool, error) {
	if !outcome.IsTerminal() {
		return false, ErrInvalidOutcome
	}
	if t.status == outcome {
		return false, nil
	}
	if t.status.IsTerminal() {
		return false, ErrFinalizeConflict
	}
	completedAt := at.UTC()
	t.status = outcome
	t.completedAt = &completedAt
	return true, nil
}

// MustNewTransaction テスト用ヘルパー: NewTransactionを呼び出し、エラーが発生した場合はpanicする
func MustNewTransaction(
	transactionID string,
	walletID string,
	transactionType TransactionType,
	amount int64,
	idempotencyKey string,
) *Transaction {
	tx, err := NewTransaction(transactionID, walletID, transactionType, amount, idempotencyKey)
	if err != nil {
		panic(err)
	}
	return tx
}
