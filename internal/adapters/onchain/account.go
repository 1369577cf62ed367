package onchain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is a locally held key implementing ports.Signer. The gateway
// type-asserts it back to sign transactions.
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAccount parses a hex private key (with or without 0x prefix).
func NewAccount(privateKeyHex string) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain: parse private key: %w", err)
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (a *Account) Address() string {
	return a.address.Hex()
}
