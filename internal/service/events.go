package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// EventStream is the durable stream that mirrors the listings channel.
const EventStream = "stream:listings"

// emit publishes ev and writes the audit entry. Failures are logged; the
// transition itself has already committed.
func (s *ListingService) emit(ctx context.Context, ev domain.ListingEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing_service: marshal event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, domain.ListingsChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "listing_service: publish failed",
				slog.String("type", ev.Type),
				slog.String("listing_id", ev.ListingID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			s.logger.WarnContext(ctx, "listing_service: stream append failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		detail := map[string]any{
			"listing_id": ev.ListingID,
			"asset_ref":  ev.AssetRef,
			"state":      string(ev.State),
		}
		if ev.Actor != "" {
			detail["actor"] = ev.Actor
		}
		if ev.Settlement != nil {
			detail["buyer"] = ev.Settlement.Buyer
			detail["total_price"] = ev.Settlement.TotalPrice
			detail["fee_amount"] = ev.Settlement.FeeAmount
			detail["royalty_amount"] = ev.Settlement.RoyaltyAmount
		}
		if ev.RoyaltyRedirected > 0 {
			detail["royalty_redirected"] = ev.RoyaltyRedirected
		}
		if err := s.audit.Log(ctx, auditEvent(ev.Type), detail); err != nil {
			s.logger.WarnContext(ctx, "listing_service: audit log failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *ListingService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "listing_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// auditEvent turns "listing_sold" into "listing.sold".
func auditEvent(eventType string) string {
	return strings.Replace(eventType, "_", ".", 1)
}
