package memory

import (
	"sync"

	"ticket-wallet/internal/domain/event"
	"ticket-wallet/internal/domain/ticket"
	"ticket-wallet/internal/domain/transaction"
	"ticket-wallet/internal/domain/wallet"
)

// Store プロセス内メモリの永続化実装
// テストとSTORAGE_DRIVER=memoryで使用する。エンティティはコピーで保持する
type Store struct {
	mu sync.RWMutex

	wallets map[string]wallet.Wallet

	transactions       map[string]transaction.Transaction
	transactionOrder   []string
	transactionsByKey  map[string]string
	transactionsByWall map[string][]string

	tickets           map[string]ticket.Ticket
	ticketsByPurchase map[string]string
	ticketsByEvent    map[string][]string

	events map[string]event.Event
}

// New 空のStoreを作成
func New() *Store {
	return &Store{
		wallets:            make(map[string]wallet.Wallet),
		transactions:       make(map[string]transaction.Transaction),
		transactionsByKey:  make(map[string]string),
		transactionsByWall: make(map[string][]string),
		tickets:            make(map[string]ticket.Ticket),
		ticketsByPurchase:  make(map[string]string),
		ticketsByEvent:     make(map[string][]string),
		events:             make(map[string]event.Event),
	}
}

// Wallets wallet.WalletRepositoryとしてのビューを返す
func (s *Store) Wallets() *WalletRepository {
	return &WalletRepository{s: s}
}

// Transactions transaction.TransactionRepositoryとしてのビューを返す
func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{s: s}
}

// Tickets ticket.TicketRepositoryとしてのビューを返す
func (s *Store) Tickets() *TicketRepository {
	return &TicketRepository{s: s}
}

// Events event.Catalogとしてのビューを返す
func (s *Store) Events() *EventCatalog {
	return &EventCatalog{s: s}
}
