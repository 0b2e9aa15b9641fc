package domain

import "time"

// ListingState is the lifecycle state of a listing.
type ListingState string

const (
	ListingStateCreated   ListingState = "created"
	ListingStateActive    ListingState = "active"
	ListingStateSold      ListingState = "sold"
	ListingStateCancelled ListingState = "cancelled"
	ListingStateExpired   ListingState = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s ListingState) Terminal() bool {
	switch s {
	case ListingStateSold, ListingStateCancelled, ListingStateExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s ListingState) Valid() bool {
	switch s {
	case ListingStateCreated, ListingStateActive, ListingStateSold,
		ListingStateCancelled, ListingStateExpired:
		return true
	default:
		return false
	}
}

// Price is an amount in the smallest unit of Currency.
type Price struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// Listing is a seller's offer to sell one asset at a fixed price.
type Listing struct {
	ID         string       `json:"id"`
	AssetRef   string       `json:"asset_ref"`
	Seller     string       `json:"seller"`
	Price      Price        `json:"price"`
	State      ListingState `json:"state"`
	Expiry     *time.Time   `json:"expiry,omitempty"`
	Collection string       `json:"collection,omitempty"`
	FeeBps     uint32       `json:"fee_bps"`
	RoyaltyBps uint32       `json:"royalty_bps"`
	Creators   []string     `json:"creators,omitempty"`
	Vault      string       `json:"vault"`
	Version    int64        `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Expired reports whether the listing's expiry has been reached at now.
// A listing without an expiry never expires.
func (l Listing) Expired(now time.Time) bool {
	return l.Expiry != nil && !now.Before(*l.Expiry)
}

// Clone returns a deep copy so callers can stage changes without aliasing.
func (l Listing) Clone() Listing {
	out := l
	if l.Expiry != nil {
		exp := *l.Expiry
		out.Expiry = &exp
	}
	if l.Creators != nil {
		out.Creators = append([]string(nil), l.Creators...)
	}
	return out
}

// ListingFilter narrows ListListings results. Empty fields match everything.
type ListingFilter struct {
	State    ListingState
	Seller   string
	AssetRef string
	Limit    int
	Offset   int
}

// NewListing carries the caller-supplied terms of a listing.
type NewListing struct {
	Seller     string     `json:"seller"`
	AssetRef   string     `json:"asset_ref"`
	Price      Price      `json:"price"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Collection string     `json:"collection,omitempty"`
	// RoyaltyBps overrides the asset metadata royalty when non-nil.
	RoyaltyBps *uint32 `json:"royalty_bps,omitempty"`
}

// EscrowRecord is the vault's custody entry for an active listing.
type EscrowRecord struct {
	ListingID   string    `json:"listing_id"`
	AssetRef    string    `json:"asset_ref"`
	Owner       string    `json:"owner"`
	Vault       string    `json:"vault"`
	Amount      uint64    `json:"amount"`
	DepositedAt time.Time `json:"deposited_at"`
}

// RoyaltyShare is one creator's part of a royalty payment.
type RoyaltyShare struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// SettlementResult records how a sale's proceeds were divided.
// SellerProceeds + FeeAmount + RoyaltyAmount always equals TotalPrice.
type SettlementResult struct {
	ListingID      string         `json:"listing_id"`
	Buyer          string         `json:"buyer"`
	Seller         string         `json:"seller"`
	TotalPrice     uint64         `json:"total_price"`
	Currency       string         `json:"currency"`
	SellerProceeds uint64         `json:"seller_proceeds"`
	FeeAmount      uint64         `json:"fee_amount"`
	FeeRecipient   string         `json:"fee_recipient"`
	RoyaltyAmount  uint64         `json:"royalty_amount"`
	RoyaltyShares  []RoyaltyShare `json:"royalty_shares,omitempty"`
	SettledAt      time.Time      `json:"settled_at"`
	Signature      string         `json:"signature,omitempty"`
}

// Payment is what a buyer offers for a listing.
type Payment struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// AssetMetadata is what the metadata program reports about an asset.
type AssetMetadata struct {
	AssetRef           string   `json:"asset_ref"`
	Collection         string   `json:"collection,omitempty"`
	CollectionVerified bool     `json:"collection_verified"`
	Creators           []string `json:"creators,omitempty"`
	SellerFeeBps       uint32   `json:"seller_fee_bps"`
}

// ListingEvent is published on the listings channel after every committed
// transition.
type ListingEvent struct {
	Type       string            `json:"type"`
	ListingID  string            `json:"listing_id"`
	AssetRef   string            `json:"asset_ref"`
	State      ListingState      `json:"state"`
	Actor      string            `json:"actor,omitempty"`
	Settlement *SettlementResult `json:"settlement,omitempty"`
	At         time.Time         `json:"at"`

	// RoyaltyRedirected is royalty paid to the seller because the asset
	// lists no creators.
	RoyaltyRedirected uint64 `json:"royalty_redirected,omitempty"`
}

const (
	EventListingCreated   = "listing_created"
	EventListingCancelled = "listing_cancelled"
	EventListingExpired   = "listing_expired"
	EventListingSold      = "listing_sold"

	// ListingsChannel is the bus channel carrying ListingEvent payloads.
	ListingsChannel = "listings"
)
