package models

import (
	"errors"
	"time"
)

// Token represents a supported token symbol
type Token string

const (
	TokenUSDC Token = "USDC"
	TokenUSDT Token = "USDT"
	TokenETH  Token = "ETH"
	TokenBTC  Token = "BTC"
	TokenDAI  Token = "DAI"
)

// SupportedTokens is the closed set of token symbols a payload may carry.
var SupportedTokens = map[Token]bool{
	TokenUSDC: true,
	TokenUSDT: true,
	TokenETH:  true,
	TokenBTC:  true,
	TokenDAI:  true,
}

// Common payload validation errors
var (
	ErrMissingWalletAddress = errors.New("wallet address is required")
	ErrMissingDeviceName    = errors.New("device name is required")
	ErrUnsupportedToken     = errors.New("unsupported token symbol")
)

// PaymentPayload is the opaque payment intent moved between two proximate
// peers. Everything that gives it financial meaning (signing, settlement)
// lives outside this subsystem.
type PaymentPayload struct {
	WalletAddress string    `json:"walletAddress" validate:"required"`
	Amount        string    `json:"amount,omitempty"`
	Token         Token     `json:"token,omitempty"`
	ChainID       string    `json:"chainId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	DeviceName    string    `json:"deviceName" validate:"required"`
}

// Validate checks the payload invariants
func (p *PaymentPayload) Validate() error {
	if p.WalletAddress == "" {
		return ErrMissingWalletAddress
	}
	if p.DeviceName == "" {
		return ErrMissingDeviceName
	}
	if p.Token != "" && !SupportedTokens[p.Token] {
		return ErrUnsupportedToken
	}
	return nil
}

// Equal reports whether two payloads carry the same payment intent.
// Timestamps are compared at second precision since the wire formats
// truncate to Unix seconds.
func (p *PaymentPayload) Equal(other *PaymentPayload) bool {
	if other == nil {
		return false
	}
	return p.WalletAddress == other.WalletAddress &&
		p.Amount == other.Amount &&
		p.Token == other.Token &&
		p.ChainID == other.ChainID &&
		p.DeviceName == other.DeviceName &&
		p.Timestamp.Unix() == other.Timestamp.Unix()
}
