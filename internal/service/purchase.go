package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/fees"
	"github.com/alanyoungcy/nftmarket/internal/transfer"
)

// PurchaseListing sells an Active listing to buyer. The asset goes to the
// buyer and the price is split between seller, fee recipient and creators in
// one unit of work. Only the listing price is charged, whatever the offer.
func (s *ListingService) PurchaseListing(ctx context.Context, id, buyer string, payment domain.Payment) (res domain.SettlementResult, err error) {
	defer s.observe("purchase", time.Now(), &err)

	if buyer == "" {
		return domain.SettlementResult{}, fmt.Errorf("listing_service: buyer is required: %w", domain.ErrInvalidListing)
	}

	unlock, err := s.acquire(ctx, "purchase", "listing:"+id)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	defer unlock()

	now := s.now().UTC()
	var (
		l          domain.Listing
		redirected uint64
	)
	journal := transfer.NewJournal(s.assets, s.payments)
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		cur, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if cur.State != domain.ListingStateActive {
			return fmt.Errorf("listing_service: purchase %s in state %s: %w", id, cur.State, domain.ErrInvalidState)
		}
		if payment.Currency != cur.Price.Currency || payment.Amount < cur.Price.Amount {
			return fmt.Errorf("listing_service: offered %d %s for price %d %s: %w",
				payment.Amount, payment.Currency, cur.Price.Amount, cur.Price.Currency, domain.ErrInsufficientPayment)
		}
		if cur.Expired(now) {
			return fmt.Errorf("listing_service: purchase %s after expiry: %w", id, domain.ErrInvalidState)
		}

		split, err := fees.Split(cur.Price.Amount, cur.FeeBps, cur.RoyaltyBps)
		if err != nil {
			return err
		}
		settled, moved, err := s.settle(ctx, tx, journal, cur, buyer, split, now)
		if err != nil {
			return err
		}

		cur.State = domain.ListingStateSold
		cur.UpdatedAt = now
		if err := tx.UpdateListing(ctx, cur, domain.ListingStateActive); err != nil {
			return err
		}
		l, res, redirected = cur, settled, moved
		return nil
	})
	if err != nil {
		s.compensate(ctx, journal, "purchase", id)
		return domain.SettlementResult{}, fmt.Errorf("listing_service: purchase: %w", err)
	}
	journal.Commit()

	s.logger.InfoContext(ctx, "listing_service: listing sold",
		slog.String("listing_id", id),
		slog.String("buyer", buyer),
		slog.Uint64("price", res.TotalPrice),
		slog.Uint64("fee", res.FeeAmount),
		slog.Uint64("royalty", res.RoyaltyAmount),
		slog.Uint64("royalty_redirected", redirected),
	)
	if s.metrics != nil {
		s.metrics.ObserveSettlement(res)
	}
	s.emit(ctx, domain.ListingEvent{
		Type: domain.EventListingSold, ListingID: id, AssetRef: l.AssetRef,
		State: l.State, Actor: buyer, Settlement: &res, RoyaltyRedirected: redirected, At: now,
	})
	s.notify(ctx, domain.EventListingSold, "Listing sold",
		fmt.Sprintf("Listing %s (%s) sold to %s for %d %s", id, l.AssetRef, buyer, res.TotalPrice, res.Currency))
	return res, nil
}

// settle releases the asset to the buyer, pays every non-zero share and
// records the result. Royalty with no creators to receive it goes to the
// seller; that amount is returned alongside the result.
func (s *ListingService) settle(
	ctx context.Context,
	tx domain.MarketTx,
	journal *transfer.Journal,
	l domain.Listing,
	buyer string,
	split fees.Result,
	now time.Time,
) (domain.SettlementResult, uint64, error) {
	if _, err := s.vault.Release(ctx, tx, journal, l.ID, buyer); err != nil {
		return domain.SettlementResult{}, 0, err
	}

	res := domain.SettlementResult{
		ListingID:      l.ID,
		Buyer:          buyer,
		Seller:         l.Seller,
		TotalPrice:     l.Price.Amount,
		Currency:       l.Price.Currency,
		SellerProceeds: split.SellerProceeds,
		FeeAmount:      split.FeeAmount,
		FeeRecipient:   s.cfg.FeeRecipient,
		RoyaltyAmount:  split.RoyaltyAmount,
		RoyaltyShares:  fees.Distribute(split.RoyaltyAmount, l.Creators),
		SettledAt:      now,
	}
	var redirected uint64
	if len(res.RoyaltyShares) == 0 {
		redirected = res.RoyaltyAmount
		res.SellerProceeds += redirected
		res.RoyaltyAmount = 0
	}

	currency := l.Price.Currency
	if err := journal.MoveFunds(ctx, buyer, l.Seller, res.SellerProceeds, currency); err != nil {
		return domain.SettlementResult{}, 0, err
	}
	if err := journal.MoveFunds(ctx, buyer, res.FeeRecipient, res.FeeAmount, currency); err != nil {
		return domain.SettlementResult{}, 0, err
	}
	for _, share := range res.RoyaltyShares {
		if err := journal.MoveFunds(ctx, buyer, share.Recipient, share.Amount, currency); err != nil {
			return domain.SettlementResult{}, 0, err
		}
	}

	if s.signer != nil {
		sig, err := s.signer.SignSettlement(res)
		if err != nil {
			return domain.SettlementResult{}, 0, fmt.Errorf("listing_service: sign settlement: %w", err)
		}
		res.Signature = sig
	}
	if err := tx.InsertSettlement(ctx, res); err != nil {
		return domain.SettlementResult{}, 0, err
	}
	return res, redirected, nil
}
