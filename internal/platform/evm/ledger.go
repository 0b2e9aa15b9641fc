// Package evm moves listed NFTs and payment tokens on an EVM chain. The
// operator key must be approved (setApprovalForAll / allowance) by sellers
// and buyers; every transfer is a transferFrom sent by the operator.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Backend is the slice of ethclient.Client the ledger uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds chain settings.
type Config struct {
	RPCURL          string
	ChainID         int64 // expected chain; 0 accepts whatever the node reports
	NFTContract     string
	PaymentToken    string
	PaymentCurrency string
	ReceiptTimeout  time.Duration
	PollInterval    time.Duration
}

// Ledger implements the asset transfer, payment and metadata ports against
// ERC-721, ERC-20 and ERC-2981 contracts.
type Ledger struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	operator common.Address
	chainID  *big.Int
	signer   types.Signer
	cfg      Config
	nft      common.Address
	token    common.Address
	sendMu   sync.Mutex
	logger   *slog.Logger
}

// Dial connects to cfg.RPCURL and returns a Ledger plus a close function.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Ledger, func(), error) {
	if cfg.RPCURL == "" {
		return nil, nil, errors.New("evm: rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial: %w", err)
	}
	l, err := New(ctx, cli, cfg, key, logger)
	if err != nil {
		cli.Close()
		return nil, nil, err
	}
	return l, cli.Close, nil
}

// New builds a Ledger over an existing backend.
func New(ctx context.Context, backend Backend, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Ledger, error) {
	if key == nil {
		return nil, errors.New("evm: operator key is required")
	}
	if !common.IsHexAddress(cfg.PaymentToken) {
		return nil, fmt.Errorf("evm: payment token %q is not an address", cfg.PaymentToken)
	}
	if cfg.NFTContract != "" && !common.IsHexAddress(cfg.NFTContract) {
		return nil, fmt.Errorf("evm: nft contract %q is not an address", cfg.NFTContract)
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("evm: node is on chain %s, expected %d", chainID, cfg.ChainID)
	}
	return &Ledger{
		backend:  backend,
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		cfg:      cfg,
		nft:      common.HexToAddress(cfg.NFTContract),
		token:    common.HexToAddress(cfg.PaymentToken),
		logger:   logger.With(slog.String("component", "evm_ledger")),
	}, nil
}

// Operator is the address that sends every transfer. Use it as the escrow
// custodian so released assets can be moved again.
func (l *Ledger) Operator() string {
	return l.operator.Hex()
}

// Transfer moves one ERC-721 token. amount must be 1.
func (l *Ledger) Transfer(ctx context.Context, assetRef, from, to string, amount uint64) error {
	if amount != 1 {
		return fmt.Errorf("evm: erc721 transfer of %d units: %w", amount, domain.ErrTransferFailed)
	}
	asset, err := parseAssetRef(assetRef, l.nft)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	fromAddr, toAddr, err := parsePair(from, to)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	if err := l.transact(ctx, asset.contract, fromAddr, toAddr, asset.tokenID); err != nil {
		return fmt.Errorf("evm: transfer %s: %w: %w", assetRef, domain.ErrTransferFailed, err)
	}
	return nil
}

// TransferFunds moves ERC-20 payment tokens. Only the configured currency
// is accepted.
func (l *Ledger) TransferFunds(ctx context.Context, payer, payee string, amount uint64, currency string) error {
	if currency != l.cfg.PaymentCurrency {
		return fmt.Errorf("evm: currency %q not supported: %w", currency, domain.ErrPaymentFailed)
	}
	if amount == 0 {
		return nil
	}
	fromAddr, toAddr, err := parsePair(payer, payee)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	if err := l.transact(ctx, l.token, fromAddr, toAddr, new(big.Int).SetUint64(amount)); err != nil {
		return fmt.Errorf("evm: pay %d %s: %w: %w", amount, currency, domain.ErrPaymentFailed, err)
	}
	return nil
}

// Metadata reads ERC-2981 royalty info. The contract is the collection and
// counts as verified; the royalty receiver is the only creator. Contracts
// without ERC-2981 report no royalty.
func (l *Ledger) Metadata(ctx context.Context, assetRef string) (domain.AssetMetadata, error) {
	asset, err := parseAssetRef(assetRef, l.nft)
	if err != nil {
		return domain.AssetMetadata{}, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	meta := domain.AssetMetadata{
		AssetRef:           assetRef,
		Collection:         asset.contract.Hex(),
		CollectionVerified: true,
	}

	if _, err := l.call(ctx, asset.contract, "ownerOf", asset.tokenID); err != nil {
		return domain.AssetMetadata{}, fmt.Errorf("evm: ownerOf %s: %w", assetRef, domain.ErrNotFound)
	}

	out, err := l.call(ctx, asset.contract, "royaltyInfo", asset.tokenID, big.NewInt(10_000))
	if err != nil {
		l.logger.DebugContext(ctx, "evm: no royaltyInfo", slog.String("asset", assetRef))
		return meta, nil
	}
	receiver, _ := out[0].(common.Address)
	bps, _ := out[1].(*big.Int)
	if receiver != (common.Address{}) && bps != nil && bps.Sign() > 0 && bps.IsUint64() && bps.Uint64() <= 10_000 {
		meta.Creators = []string{receiver.Hex()}
		meta.SellerFeeBps = uint32(bps.Uint64())
	}
	return meta, nil
}

func (l *Ledger) call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := l.backend.CallContract(ctx, ethereum.CallMsg{From: l.operator, To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return tokenABI.Unpack(method, raw)
}

// transact sends transferFrom(from, to, value) and waits for a successful
// receipt.
func (l *Ledger) transact(ctx context.Context, contract, from, to common.Address, value *big.Int) error {
	data, err := tokenABI.Pack("transferFrom", from, to, value)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}

	tx, err := l.send(ctx, contract, data)
	if err != nil {
		return err
	}

	receipt, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	l.logger.InfoContext(ctx, "evm: transfer mined",
		slog.String("tx", tx.Hash().Hex()),
		slog.String("contract", contract.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return nil
}

// send signs and submits one transaction. Sends are serialised so pending
// nonces are not reused.
func (l *Ledger) send(ctx context.Context, contract common.Address, data []byte) (*types.Transaction, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, l.operator)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.operator, To: &contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &contract,
		Data:     data,
	}), l.signer, l.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return tx, nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func parsePair(from, to string) (common.Address, common.Address, error) {
	f, err := parseAccount(from)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	t, err := parseAccount(to)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return f, t, nil
}

var (
	_ domain.AssetTransferPort = (*Ledger)(nil)
	_ domain.PaymentPort       = (*Ledger)(nil)
	_ domain.MetadataPort      = (*Ledger)(nil)
)
