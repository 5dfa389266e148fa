package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrAddressTypeMismatch is returned when a UTXO is added or signed with the
// functions of a different address type
var ErrAddressTypeMismatch = errors.New("address type mismatch")

// UTXO represents an unspent transaction output for transaction building
type UTXO struct {
	TxID    string
	Vout    uint32
	Value   int64
	Address string
}

// TransactionResult contains the result of building a transaction
type TransactionResult struct {
	TxID          string
	Hex           string
	PSBT          string
	Fee           int64
	TotalInput    int64
	TotalOutput   int64
	ChangeAmount  int64
	ChangeAddress string
	Size          int
	VSize         int
}

const (
	// DustLimit is the minimum output value in satoshis
	DustLimit = 546

	// DefaultFeeRate in satoshis per vbyte
	DefaultFeeRate = 10

	// P2PKHInputSize is the size of a P2PKH input spending a compressed key
	P2PKHInputSize = 148

	// P2SHP2WPKHInputSize is the virtual size of a P2SH-P2WPKH input in vbytes
	// The redeem script push lives in the scriptSig and is not discounted
	P2SHP2WPKHInputSize = 91

	// P2WPKHInputSize is the virtual size of a P2WPKH input in vbytes
	P2WPKHInputSize = 68

	// P2PKHOutputSize is the size of a P2PKH output in bytes
	P2PKHOutputSize = 34

	// P2SHOutputSize is the size of a P2SH output in bytes
	P2SHOutputSize = 32

	// P2WPKHOutputSize is the size of a P2WPKH output in bytes
	P2WPKHOutputSize = 31

	// P2TROutputSize is the size of a P2TR output in bytes
	P2TROutputSize = 43

	// TxOverhead is the base transaction overhead
	TxOverhead = 10

	// MaxReasonableFeeRate is the maximum fee rate (sat/vB) accepted without complaint
	MaxReasonableFeeRate = 1000

	// SequenceRBF signals opt-in Replace-By-Fee (BIP125)
	SequenceRBF = 0xFFFFFFFD
)

// ValidateFeeRate checks if the fee rate is within reasonable bounds
// Returns an error message if the fee rate is dangerously high, empty string otherwise
func ValidateFeeRate(feeRate int64) string {
	if feeRate > MaxReasonableFeeRate {
		return fmt.Sprintf("fee_rate %d sat/vB exceeds safety limit of %d sat/vB - this would be extremely expensive", feeRate, MaxReasonableFeeRate)
	}
	return ""
}

// InputVSize returns the estimated virtual size of an input spending pkScript
func InputVSize(pkScript []byte) int64 {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return P2PKHInputSize
	case txscript.ScriptHashTy:
		return P2SHP2WPKHInputSize
	default:
		return P2WPKHInputSize
	}
}

// OutputVSize returns the size of an output paying to pkScript
func OutputVSize(pkScript []byte) int64 {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return P2PKHOutputSize
	case txscript.ScriptHashTy:
		return P2SHOutputSize
	case txscript.WitnessV1TaprootTy:
		return P2TROutputSize
	default:
		return P2WPKHOutputSize
	}
}

// TxBuilder accumulates the inputs and outputs of a transaction together with
// the previous outputs its inputs spend
type TxBuilder struct {
	params   *chaincfg.Params
	tx       *wire.MsgTx
	prevOuts map[wire.OutPoint]*wire.TxOut
}

// NewTxBuilder creates an empty transaction for the network
func NewTxBuilder(network string) (*TxBuilder, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}

	return &TxBuilder{
		params:   params,
		tx:       wire.NewMsgTx(wire.TxVersion),
		prevOuts: make(map[wire.OutPoint]*wire.TxOut),
	}, nil
}

// Params returns the chain parameters of the builder's network
func (b *TxBuilder) Params() *chaincfg.Params {
	return b.params
}

// Tx returns the transaction under construction
func (b *TxBuilder) Tx() *wire.MsgTx {
	return b.tx
}

// AddOutput pays value satoshis to address
func (b *TxBuilder) AddOutput(address string, value int64) error {
	if value < DustLimit {
		return fmt.Errorf("output value %d is below dust limit %d", value, DustLimit)
	}

	pkScript, err := scriptPubKey(address, b.params)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", address, err)
	}

	b.tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return nil
}

// addInput appends an RBF-signalling input spending utxo after checking that
// the UTXO's address is of the kind accepted by match
func (b *TxBuilder) addInput(utxo UTXO, kind string, match func(btcutil.Address) bool) (int, error) {
	addr, err := btcutil.DecodeAddress(utxo.Address, b.params)
	if err != nil {
		return 0, fmt.Errorf("invalid input address %s: %w", utxo.Address, err)
	}
	if !match(addr) {
		return 0, fmt.Errorf("%w: %s is not a %s address", ErrAddressTypeMismatch, utxo.Address, kind)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, fmt.Errorf("failed to create script for %s: %w", utxo.Address, err)
	}

	txHash, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return 0, fmt.Errorf("invalid txid %s: %w", utxo.TxID, err)
	}

	outpoint := wire.NewOutPoint(txHash, utxo.Vout)
	if _, exists := b.prevOuts[*outpoint]; exists {
		return 0, fmt.Errorf("outpoint %s is already an input", outpoint)
	}

	txIn := wire.NewTxIn(outpoint, nil, nil)
	txIn.Sequence = SequenceRBF
	b.tx.AddTxIn(txIn)
	b.prevOuts[*outpoint] = wire.NewTxOut(utxo.Value, pkScript)

	return len(b.tx.TxIn) - 1, nil
}

// prevOut returns the output spent by the input at index
func (b *TxBuilder) prevOut(index int) (*wire.TxOut, error) {
	if index < 0 || index >= len(b.tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range (have %d inputs)", index, len(b.tx.TxIn))
	}
	return b.prevOuts[b.tx.TxIn[index].PreviousOutPoint], nil
}

func (b *TxBuilder) prevOutFetcher() txscript.PrevOutputFetcher {
	return txscript.NewMultiPrevOutFetcher(b.prevOuts)
}

// SigHashes computes the BIP143 sighash midstate for the current inputs and outputs
func (b *TxBuilder) SigHashes() *txscript.TxSigHashes {
	return txscript.NewTxSigHashes(b.tx, b.prevOutFetcher())
}

// VerifyInput runs the script engine over the input at index
func (b *TxBuilder) VerifyInput(index int) error {
	prev, err := b.prevOut(index)
	if err != nil {
		return err
	}

	vm, err := txscript.NewEngine(
		prev.PkScript,
		b.tx,
		index,
		txscript.StandardVerifyFlags,
		nil,
		b.SigHashes(),
		prev.Value,
		b.prevOutFetcher(),
	)
	if err != nil {
		return fmt.Errorf("failed to create script engine for input %d: %w", index, err)
	}

	if err := vm.Execute(); err != nil {
		return fmt.Errorf("input %d failed verification: %w", index, err)
	}

	return nil
}

// TotalInput returns the sum of the values spent by all inputs
func (b *TxBuilder) TotalInput() int64 {
	var total int64
	for _, txIn := range b.tx.TxIn {
		total += b.prevOuts[txIn.PreviousOutPoint].Value
	}
	return total
}

// TotalOutput returns the sum of all output values
func (b *TxBuilder) TotalOutput() int64 {
	var total int64
	for _, txOut := range b.tx.TxOut {
		total += txOut.Value
	}
	return total
}

// EstimateFee estimates the fee for the current inputs and outputs plus any
// outputs paying to extraOutputs
func (b *TxBuilder) EstimateFee(feeRate int64, extraOutputs ...[]byte) int64 {
	vsize := int64(TxOverhead)
	for _, txIn := range b.tx.TxIn {
		vsize += InputVSize(b.prevOuts[txIn.PreviousOutPoint].PkScript)
	}
	for _, txOut := range b.tx.TxOut {
		vsize += OutputVSize(txOut.PkScript)
	}
	for _, pkScript := range extraOutputs {
		vsize += OutputVSize(pkScript)
	}
	return vsize * feeRate
}

// Serialize returns the wire encoding of the transaction
func (b *TxBuilder) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// Hex returns the hex wire encoding of the transaction
func (b *TxBuilder) Hex() (string, error) {
	raw, err := b.Serialize()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// TxID returns the transaction id
func (b *TxBuilder) TxID() string {
	return b.tx.TxHash().String()
}

// VSize returns the virtual size of the transaction in vbytes
func (b *TxBuilder) VSize() int {
	stripped := b.tx.SerializeSizeStripped()
	return stripped + (b.tx.SerializeSize()-stripped+3)/4
}

// PSBT returns the transaction as a base64 unsigned PSBT. SegWit inputs carry
// their witness UTXO; signatures already applied are not included.
func (b *TxBuilder) PSBT() (string, error) {
	unsigned := b.tx.Copy()
	for _, txIn := range unsigned.TxIn {
		txIn.SignatureScript = nil
		txIn.Witness = nil
	}

	p, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return "", fmt.Errorf("failed to create PSBT: %w", err)
	}

	for i, txIn := range unsigned.TxIn {
		prev := b.prevOuts[txIn.PreviousOutPoint]
		switch txscript.GetScriptClass(prev.PkScript) {
		case txscript.WitnessV0PubKeyHashTy, txscript.ScriptHashTy:
			p.Inputs[i].WitnessUtxo = wire.NewTxOut(prev.Value, prev.PkScript)
		}
	}

	encoded, err := p.B64Encode()
	if err != nil {
		return "", fmt.Errorf("failed to serialize PSBT: %w", err)
	}
	return encoded, nil
}
