// Package transfer executes the asset and fund movements of one marketplace
// operation and remembers them so they can be reversed if the operation's
// unit of work does not commit.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type legKind int

const (
	legAsset legKind = iota
	legFunds
)

// leg is one completed movement.
type leg struct {
	kind   legKind
	unit   string // asset ref or currency
	from   string
	to     string
	amount uint64
}

// Journal wraps the transfer ports for a single operation. It is not safe
// for concurrent use; each operation owns its own Journal.
type Journal struct {
	assets   domain.AssetTransferPort
	payments domain.PaymentPort
	legs     []leg
}

// NewJournal returns an empty journal over the given ports.
func NewJournal(assets domain.AssetTransferPort, payments domain.PaymentPort) *Journal {
	return &Journal{assets: assets, payments: payments}
}

// MoveAsset transfers amount units of assetRef. A port failure is reported
// as domain.ErrTransferFailed.
func (j *Journal) MoveAsset(ctx context.Context, assetRef, from, to string, amount uint64) error {
	if err := j.assets.Transfer(ctx, assetRef, from, to, amount); err != nil {
		return fmt.Errorf("transfer: asset %s %s -> %s: %w: %w", assetRef, from, to, domain.ErrTransferFailed, err)
	}
	j.legs = append(j.legs, leg{kind: legAsset, unit: assetRef, from: from, to: to, amount: amount})
	return nil
}

// MoveFunds transfers amount of currency. Zero amounts are skipped. A port
// failure is reported as domain.ErrPaymentFailed.
func (j *Journal) MoveFunds(ctx context.Context, payer, payee string, amount uint64, currency string) error {
	if amount == 0 {
		return nil
	}
	if err := j.payments.TransferFunds(ctx, payer, payee, amount, currency); err != nil {
		return fmt.Errorf("transfer: %d %s %s -> %s: %w: %w", amount, currency, payer, payee, domain.ErrPaymentFailed, err)
	}
	j.legs = append(j.legs, leg{kind: legFunds, unit: currency, from: payer, to: payee, amount: amount})
	return nil
}

// Len returns the number of completed legs not yet compensated.
func (j *Journal) Len() int {
	return len(j.legs)
}

// Compensate reverses every completed leg, newest first, and clears the
// journal. It keeps going after a failed reversal and returns all failures
// joined. Cancellation of ctx does not stop compensation.
func (j *Journal) Compensate(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(j.legs) - 1; i >= 0; i-- {
		l := j.legs[i]
		var err error
		switch l.kind {
		case legAsset:
			err = j.assets.Transfer(ctx, l.unit, l.to, l.from, l.amount)
		case legFunds:
			err = j.payments.TransferFunds(ctx, l.to, l.from, l.amount, l.unit)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("transfer: reverse %s %s -> %s: %w", l.unit, l.to, l.from, err))
		}
	}
	j.legs = nil
	return errors.Join(errs...)
}

// Commit forgets the completed legs once the unit of work is durable.
func (j *Journal) Commit() {
	j.legs = nil
}
