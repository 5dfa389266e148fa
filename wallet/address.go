package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// P2PKHAddress encodes a public key as a legacy pay-to-pubkey-hash address (1...)
func P2PKHAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}

	return addr.EncodeAddress(), nil
}

// P2SHP2WPKHAddress encodes a public key as a SegWit address nested in P2SH (3...)
func P2SHP2WPKHAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	redeemScript, err := witnessPubKeyHashScript(pubKey, params)
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2SH-P2WPKH address: %w", err)
	}

	return addr.EncodeAddress(), nil
}

// P2WPKHAddress encodes a public key as a native SegWit (bech32) address (bc1q...)
func P2WPKHAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2WPKH address: %w", err)
	}

	return addr.EncodeAddress(), nil
}

// witnessPubKeyHashScript returns the version 0 witness program for a public
// key. It is the scriptPubKey of a P2WPKH output and the redeem script of a
// P2SH-P2WPKH output.
func witnessPubKeyHashScript(pubKey *btcec.PublicKey, params *chaincfg.Params) ([]byte, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create witness program: %w", err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create witness program script: %w", err)
	}

	return script, nil
}

// GetScriptPubKey returns the scriptPubKey for an address
func GetScriptPubKey(address string, network string) ([]byte, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}

	return scriptPubKey(address, params)
}

func scriptPubKey(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}

	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %s is not for %s", address, params.Name)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create scriptPubKey: %w", err)
	}

	return script, nil
}

// ValidateAddress checks if an address is valid for the given network
func ValidateAddress(address string, network string) error {
	params, err := NetworkParams(network)
	if err != nil {
		return err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	if !addr.IsForNet(params) {
		return fmt.Errorf("address is not for %s network", network)
	}

	return nil
}

// GetAddressType returns the type of a Bitcoin address
func GetAddressType(address string, network string) (string, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return "", err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}

	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return "p2pkh", nil
	case *btcutil.AddressScriptHash:
		return "p2sh", nil
	case *btcutil.AddressWitnessPubKeyHash:
		return "p2wpkh", nil
	case *btcutil.AddressWitnessScriptHash:
		return "p2wsh", nil
	case *btcutil.AddressTaproot:
		return "p2tr", nil
	default:
		return "unknown", nil
	}
}
