package btc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

var (
	// errInvalidSignRequest marks sign failures caused by the request itself
	errInvalidSignRequest = errors.New("invalid sign request")

	errInsufficientFunds = errors.New("insufficient funds")
)

// signInput is an output to spend, owned by the key at DerivationPath
type signInput struct {
	TxID           string `json:"txid"`
	Vout           uint32 `json:"vout"`
	Value          int64  `json:"value"`
	DerivationPath string `json:"derivation_path"`
}

type signOutput struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type signRequest struct {
	Seed                 []byte
	Network              string
	Inputs               []signInput
	Outputs              []signOutput
	ChangeDerivationPath string
	FeeRate              int64
}

// signedInput reports how an input was resolved and signed
type signedInput struct {
	Index          int
	Address        string
	DerivationPath string
	AddressType    addresstype.Identifier
	Resolved       bool
}

type signResult struct {
	wallet.TransactionResult
	Inputs []signedInput
}

// inputKey holds the key and resolved behaviour for one input path
type inputKey struct {
	priv       *btcec.PrivateKey
	address    string
	descriptor addresstype.Descriptor
	resolved   bool
	addInput   addresstype.AddInputFunc
	signInput  addresstype.SignInputFunc
}

// invalidRequest wraps err as a caller error
func invalidRequest(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %w", errInvalidSignRequest, fmt.Sprintf(format, args...), err)
}

// buildSignedTransaction builds a transaction spending the inputs to the
// outputs, adds change above the dust limit, and signs every input with the
// functions resolved from its derivation path
func buildSignedTransaction(logger hclog.Logger, resolver *addresstype.Resolver, req signRequest) (*signResult, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one input is required", errInvalidSignRequest)
	}
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("%w: at least one output is required", errInvalidSignRequest)
	}
	if req.FeeRate <= 0 {
		return nil, fmt.Errorf("%w: fee_rate must be positive", errInvalidSignRequest)
	}

	builder, err := wallet.NewTxBuilder(req.Network)
	if err != nil {
		return nil, err
	}

	for i, out := range req.Outputs {
		if err := builder.AddOutput(out.Address, out.Amount); err != nil {
			return nil, invalidRequest(err, "output %d", i)
		}
	}

	keys := make([]inputKey, len(req.Inputs))
	result := &signResult{Inputs: make([]signedInput, len(req.Inputs))}
	for i, in := range req.Inputs {
		if in.Value <= 0 {
			return nil, fmt.Errorf("%w: input %d: value must be positive", errInvalidSignRequest, i)
		}

		k, err := resolveInputKey(logger, resolver, builder, req.Seed, req.Network, in.DerivationPath)
		if err != nil {
			return nil, invalidRequest(err, "input %d", i)
		}

		index, err := k.addInput(builder, wallet.UTXO{
			TxID:    in.TxID,
			Vout:    in.Vout,
			Value:   in.Value,
			Address: k.address,
		})
		if err != nil {
			return nil, invalidRequest(err, "input %d", i)
		}

		keys[index] = k
		result.Inputs[index] = signedInput{
			Index:          index,
			Address:        k.address,
			DerivationPath: in.DerivationPath,
			AddressType:    k.descriptor.ID,
			Resolved:       k.resolved,
		}
	}

	totalIn := builder.TotalInput()
	totalOut := builder.TotalOutput()

	fee := builder.EstimateFee(req.FeeRate)
	if req.ChangeDerivationPath != "" {
		change, err := resolveInputKey(logger, resolver, builder, req.Seed, req.Network, req.ChangeDerivationPath)
		if err != nil {
			return nil, invalidRequest(err, "change")
		}

		changeScript, err := wallet.GetScriptPubKey(change.address, req.Network)
		if err != nil {
			return nil, err
		}

		feeWithChange := builder.EstimateFee(req.FeeRate, changeScript)
		changeAmount := totalIn - totalOut - feeWithChange
		if changeAmount >= wallet.DustLimit {
			if err := builder.AddOutput(change.address, changeAmount); err != nil {
				return nil, err
			}
			fee = feeWithChange
			result.ChangeAmount = changeAmount
			result.ChangeAddress = change.address
		} else {
			logger.Debug("change below dust limit, adding it to the fee", "change", changeAmount)
		}
	}

	if totalIn-totalOut < fee {
		return nil, fmt.Errorf("%w: %w: inputs %d, outputs %d, fee %d", errInvalidSignRequest, errInsufficientFunds, totalIn, totalOut, fee)
	}

	unsigned, err := builder.PSBT()
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		if err := k.signInput(builder, i, k.priv); err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
	}

	for i := range keys {
		if err := builder.VerifyInput(i); err != nil {
			return nil, err
		}
	}

	txHex, err := builder.Hex()
	if err != nil {
		return nil, err
	}

	raw, err := builder.Serialize()
	if err != nil {
		return nil, err
	}

	result.TxID = builder.TxID()
	result.Hex = txHex
	result.PSBT = unsigned
	result.TotalInput = totalIn
	result.TotalOutput = builder.TotalOutput()
	result.Fee = totalIn - result.TotalOutput
	result.Size = len(raw)
	result.VSize = builder.VSize()

	logger.Debug("transaction signed", "txid", result.TxID, "inputs", len(keys), "fee", result.Fee, "vsize", result.VSize)
	return result, nil
}

// resolveInputKey derives the key at path and takes the address type
// functions from the descriptor resolved for the path's purpose
func resolveInputKey(logger hclog.Logger, resolver *addresstype.Resolver, builder *wallet.TxBuilder, seed []byte, network, path string) (inputKey, error) {
	var k inputKey

	d, resolved, err := resolver.Resolve(path)
	if err != nil {
		return k, err
	}
	if !resolved {
		logger.Warn("derivation path purpose not registered, using legacy address type", "derivation_path", path)
	}

	key, err := wallet.DeriveKeyAtPath(seed, network, path)
	if err != nil {
		return k, err
	}

	if k.priv, err = wallet.GetPrivateKey(key); err != nil {
		return k, err
	}

	if k.address, err = d.Address(k.priv.PubKey(), builder.Params()); err != nil {
		return k, fmt.Errorf("failed to encode address: %w", err)
	}

	k.descriptor = d
	k.resolved = resolved
	k.addInput = d.AddInput
	k.signInput = d.SignInput
	return k, nil
}

// decodeJSON is a helper to decode JSON strings
func decodeJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
