// Package txbuilder assembles and signs the on-chain transaction for an
// Opportunity (spec §4.4, C4).
//
// Grounded on web3-wallet-backend/internal/transaction/service.go's
// types.NewTransaction + types.SignTx(tx, types.NewEIP155Signer(chainID),
// privateKey) flow, generalized so chain id comes from the Chain Gateway's
// registry instead of a hardcoded per-chain-name switch.
package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/flashloan-executor/executor/internal/executor"
)

// gweiToWei is the wei-per-gwei conversion factor (10^9).
var gweiToWei = decimal.New(1, 9)

// NonceSource is the subset of the Chain Gateway needed to fetch a nonce.
type NonceSource interface {
	SuggestNonce(ctx context.Context, chain string, from common.Address) (uint64, error)
	ChainID(chain string) (*big.Int, error)
}

// Builder signs transactions with one configured executor key.
type Builder struct {
	key     *ecdsa.PrivateKey
	address common.Address
	nonces  NonceSource
}

// New loads the executor wallet's private key (spec §6.4
// executorWallet.privateKey, required at startup).
func New(privateKeyHex string, nonces NonceSource) (*Builder, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, &executor.ConfigError{Key: "executorWallet.privateKey", Err: err}
	}
	return &Builder{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		nonces:  nonces,
	}, nil
}

// Address returns the executor wallet's address.
func (b *Builder) Address() common.Address { return b.address }

// BuildAndSign assembles a transaction from the opportunity's call-data and
// the gas bid, fetches a fresh nonce (single-flight, no cross-run
// reservation per spec §4.4), and signs it for the chain's EIP-155 chain id.
func (b *Builder) BuildAndSign(ctx context.Context, chain string, to common.Address, data []byte, bid executor.GasBid) (*types.Transaction, error) {
	chainID, err := b.nonces.ChainID(chain)
	if err != nil {
		return nil, err
	}
	nonce, err := b.nonces.SuggestNonce(ctx, chain, b.address)
	if err != nil {
		return nil, err
	}

	gasPriceWei := bid.GasPriceGwei.Mul(gweiToWei).BigInt()

	tx := types.NewTransaction(nonce, to, big.NewInt(0), bid.GasLimit, gasPriceWei, data)

	signer := types.NewEIP155Signer(chainID)
	signed, err := types.SignTx(tx, signer, b.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
