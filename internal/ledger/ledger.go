// Package ledger is an in-process ledger of asset ownership and fund
// balances. It implements the asset transfer, payment and metadata ports and
// backs the "memory" ledger backend as well as tests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var (
	// ErrInsufficientUnits is returned when the sender does not hold enough
	// units of the asset.
	ErrInsufficientUnits = errors.New("ledger: insufficient asset units")
	// ErrInsufficientFunds is returned when the payer's balance is too low.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInjected is returned by operations rejected through FailWhen.
	ErrInjected = errors.New("ledger: injected failure")
)

// OpKind distinguishes the operations passed to a failure predicate.
type OpKind string

const (
	OpAsset OpKind = "asset"
	OpFunds OpKind = "funds"
)

// Op describes one attempted movement.
type Op struct {
	Kind   OpKind
	Unit   string // asset ref or currency
	From   string
	To     string
	Amount uint64
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	units    map[string]map[string]uint64 // asset -> account -> units
	funds    map[string]map[string]uint64 // currency -> account -> balance
	metadata map[string]domain.AssetMetadata
	failWhen func(Op) bool
	ops      []Op
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		units:    make(map[string]map[string]uint64),
		funds:    make(map[string]map[string]uint64),
		metadata: make(map[string]domain.AssetMetadata),
	}
}

// MintAsset creates a single-unit asset owned by owner and records its
// metadata. It replaces any previous holdings of assetRef.
func (l *Ledger) MintAsset(assetRef, owner string, meta domain.AssetMetadata) {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta.AssetRef = assetRef
	l.units[assetRef] = map[string]uint64{owner: 1}
	l.metadata[assetRef] = meta
}

// Credit adds amount of currency to account.
func (l *Ledger) Credit(account, currency string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.funds[currency] == nil {
		l.funds[currency] = make(map[string]uint64)
	}
	l.funds[currency][account] += amount
}

// FailWhen installs a predicate; matching operations fail with ErrInjected
// and have no effect. Pass nil to clear it.
func (l *Ledger) FailWhen(pred func(Op) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWhen = pred
}

// Units returns how many units of assetRef account holds.
func (l *Ledger) Units(assetRef, account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.units[assetRef][account]
}

// Owner returns the single account holding assetRef, if any.
func (l *Ledger) Owner(assetRef string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for acct, n := range l.units[assetRef] {
		if n > 0 {
			return acct, true
		}
	}
	return "", false
}

// Balance returns account's balance in currency.
func (l *Ledger) Balance(account, currency string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.funds[currency][account]
}

// Ops returns a copy of every successful operation, oldest first.
func (l *Ledger) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Op(nil), l.ops...)
}

// Transfer implements domain.AssetTransferPort.
func (l *Ledger) Transfer(ctx context.Context, assetRef, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	op := Op{Kind: OpAsset, Unit: assetRef, From: from, To: to, Amount: amount}
	if l.failWhen != nil && l.failWhen(op) {
		return ErrInjected
	}
	holders := l.units[assetRef]
	if holders == nil {
		holders = make(map[string]uint64)
		l.units[assetRef] = holders
	}
	if holders[from] < amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d", ErrInsufficientUnits, from, holders[from], assetRef, amount)
	}
	holders[from] -= amount
	if holders[from] == 0 {
		delete(holders, from)
	}
	holders[to] += amount
	l.ops = append(l.ops, op)
	return nil
}

// TransferFunds implements domain.PaymentPort.
func (l *Ledger) TransferFunds(ctx context.Context, payer, payee string, amount uint64, currency string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	op := Op{Kind: OpFunds, Unit: currency, From: payer, To: payee, Amount: amount}
	if l.failWhen != nil && l.failWhen(op) {
		return ErrInjected
	}
	balances := l.funds[currency]
	if balances == nil {
		balances = make(map[string]uint64)
		l.funds[currency] = balances
	}
	if balances[payer] < amount {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientFunds, payer, balances[payer], currency, amount)
	}
	balances[payer] -= amount
	balances[payee] += amount
	l.ops = append(l.ops, op)
	return nil
}

// Metadata implements domain.MetadataPort.
func (l *Ledger) Metadata(_ context.Context, assetRef string) (domain.AssetMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta, ok := l.metadata[assetRef]
	if !ok {
		return domain.AssetMetadata{}, fmt.Errorf("ledger: metadata %s: %w", assetRef, domain.ErrNotFound)
	}
	meta.Creators = append([]string(nil), meta.Creators...)
	return meta, nil
}

var (
	_ domain.AssetTransferPort = (*Ledger)(nil)
	_ domain.PaymentPort       = (*Ledger)(nil)
	_ domain.MetadataPort      = (*Ledger)(nil)
)
