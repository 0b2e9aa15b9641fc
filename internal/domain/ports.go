package domain

import "context"

// AssetTransferPort moves units of an asset between two accounts, atomically
// or not at all.
type AssetTransferPort interface {
	Transfer(ctx context.Context, assetRef, from, to string, amount uint64) error
}

// PaymentPort moves funds between two accounts, atomically or not at all.
type PaymentPort interface {
	TransferFunds(ctx context.Context, payer, payee string, amount uint64, currency string) error
}

// MetadataPort looks up the metadata program's view of an asset.
type MetadataPort interface {
	Metadata(ctx context.Context, assetRef string) (AssetMetadata, error)
}
