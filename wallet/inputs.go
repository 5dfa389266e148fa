package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

func isP2PKH(addr btcutil.Address) bool {
	_, ok := addr.(*btcutil.AddressPubKeyHash)
	return ok
}

func isP2SH(addr btcutil.Address) bool {
	_, ok := addr.(*btcutil.AddressScriptHash)
	return ok
}

func isP2WPKH(addr btcutil.Address) bool {
	_, ok := addr.(*btcutil.AddressWitnessPubKeyHash)
	return ok
}

// AddP2PKHInput adds an input spending a legacy P2PKH output
func AddP2PKHInput(b *TxBuilder, utxo UTXO) (int, error) {
	return b.addInput(utxo, "P2PKH", isP2PKH)
}

// AddP2SHP2WPKHInput adds an input spending a P2SH-P2WPKH output
func AddP2SHP2WPKHInput(b *TxBuilder, utxo UTXO) (int, error) {
	return b.addInput(utxo, "P2SH-P2WPKH", isP2SH)
}

// AddP2WPKHInput adds an input spending a native SegWit P2WPKH output
func AddP2WPKHInput(b *TxBuilder, utxo UTXO) (int, error) {
	return b.addInput(utxo, "P2WPKH", isP2WPKH)
}

// SignP2PKHInput signs a P2PKH input with an ECDSA signature in the scriptSig
func SignP2PKHInput(b *TxBuilder, index int, privKey *btcec.PrivateKey) error {
	prev, err := b.prevOut(index)
	if err != nil {
		return err
	}
	if txscript.GetScriptClass(prev.PkScript) != txscript.PubKeyHashTy {
		return fmt.Errorf("%w: input %d does not spend a P2PKH output", ErrAddressTypeMismatch, index)
	}

	sigScript, err := txscript.SignatureScript(b.tx, index, prev.PkScript, txscript.SigHashAll, privKey, true)
	if err != nil {
		return fmt.Errorf("failed to sign input %d: %w", index, err)
	}

	b.tx.TxIn[index].SignatureScript = sigScript
	return nil
}

// SignP2SHP2WPKHInput signs a P2SH-P2WPKH input: the witness carries the
// signature and public key, the scriptSig pushes the witness program
func SignP2SHP2WPKHInput(b *TxBuilder, index int, privKey *btcec.PrivateKey) error {
	prev, err := b.prevOut(index)
	if err != nil {
		return err
	}
	if txscript.GetScriptClass(prev.PkScript) != txscript.ScriptHashTy {
		return fmt.Errorf("%w: input %d does not spend a P2SH output", ErrAddressTypeMismatch, index)
	}

	redeemScript, err := witnessPubKeyHashScript(privKey.PubKey(), b.params)
	if err != nil {
		return err
	}

	scriptHash, err := btcutil.NewAddressScriptHash(redeemScript, b.params)
	if err != nil {
		return fmt.Errorf("failed to hash redeem script: %w", err)
	}
	expected, err := txscript.PayToAddrScript(scriptHash)
	if err != nil {
		return fmt.Errorf("failed to create P2SH script: %w", err)
	}
	if !bytes.Equal(expected, prev.PkScript) {
		return fmt.Errorf("key does not match P2SH-P2WPKH output of input %d", index)
	}

	witness, err := txscript.WitnessSignature(
		b.tx,
		b.SigHashes(),
		index,
		prev.Value,
		redeemScript,
		txscript.SigHashAll,
		privKey,
		true, // compressed
	)
	if err != nil {
		return fmt.Errorf("failed to sign input %d: %w", index, err)
	}

	sigScript, err := txscript.NewScriptBuilder().AddData(redeemScript).Script()
	if err != nil {
		return fmt.Errorf("failed to build scriptSig for input %d: %w", index, err)
	}

	b.tx.TxIn[index].SignatureScript = sigScript
	b.tx.TxIn[index].Witness = witness
	return nil
}

// SignP2WPKHInput signs a native SegWit input with an ECDSA signature in the witness
func SignP2WPKHInput(b *TxBuilder, index int, privKey *btcec.PrivateKey) error {
	prev, err := b.prevOut(index)
	if err != nil {
		return err
	}
	if txscript.GetScriptClass(prev.PkScript) != txscript.WitnessV0PubKeyHashTy {
		return fmt.Errorf("%w: input %d does not spend a P2WPKH output", ErrAddressTypeMismatch, index)
	}

	witness, err := txscript.WitnessSignature(
		b.tx,
		b.SigHashes(),
		index,
		prev.Value,
		prev.PkScript,
		txscript.SigHashAll,
		privKey,
		true, // compressed
	)
	if err != nil {
		return fmt.Errorf("failed to sign input %d: %w", index, err)
	}

	b.tx.TxIn[index].Witness = witness
	return nil
}
