package btc

import (
	"context"
	"errors"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

func pathWalletSign(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/sign",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the wallet",
					Required:    true,
				},
				"inputs": {
					Type:        framework.TypeString,
					Description: `JSON array of outputs to spend: [{"txid":"...","vout":0,"value":100000,"derivation_path":"m/84'/0'/0'/0/0"}]`,
					Required:    true,
				},
				"outputs": {
					Type:        framework.TypeString,
					Description: `JSON array of payments: [{"address":"bc1q...","amount":50000}]`,
					Required:    true,
				},
				"change_derivation_path": {
					Type:        framework.TypeString,
					Description: "Derivation path of the change address; without it any excess goes to the fee",
				},
				"fee_rate": {
					Type:        framework.TypeInt,
					Description: "Fee rate in satoshis per vbyte (default: 10)",
					Default:     wallet.DefaultFeeRate,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathWalletSign,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "sign",
					},
				},
				logical.CreateOperation: &framework.PathOperation{
					Callback: b.pathWalletSign,
					DisplayAttrs: &framework.DisplayAttributes{
						OperationSuffix: "sign",
					},
				},
			},
			ExistenceCheck:  b.pathWalletSignExistenceCheck,
			HelpSynopsis:    pathWalletSignHelpSynopsis,
			HelpDescription: pathWalletSignHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletSignExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletSign(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	inputsJSON := data.Get("inputs").(string)
	outputsJSON := data.Get("outputs").(string)
	changePath := data.Get("change_derivation_path").(string)
	feeRate := int64(data.Get("fee_rate").(int))

	b.Logger().Debug("sign request", "wallet", name, "fee_rate", feeRate)

	if feeRate <= 0 {
		return logical.ErrorResponse("fee_rate must be positive"), nil
	}

	if errMsg := wallet.ValidateFeeRate(feeRate); errMsg != "" {
		return logical.ErrorResponse(errMsg), nil
	}

	var inputs []signInput
	if err := decodeJSON(inputsJSON, &inputs); err != nil {
		return logical.ErrorResponse("invalid inputs JSON: %s", err.Error()), nil
	}

	var outputs []signOutput
	if err := decodeJSON(outputsJSON, &outputs); err != nil {
		return logical.ErrorResponse("invalid outputs JSON: %s", err.Error()), nil
	}

	w, err := getWallet(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}

	if w == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	network, err := getNetwork(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	for i, out := range outputs {
		if err := wallet.ValidateAddress(out.Address, network); err != nil {
			return logical.ErrorResponse("invalid address for output %d: %s", i, err.Error()), nil
		}
	}

	result, err := buildSignedTransaction(b.Logger(), b.resolver, signRequest{
		Seed:                 w.Seed,
		Network:              network,
		Inputs:               inputs,
		Outputs:              outputs,
		ChangeDerivationPath: changePath,
		FeeRate:              feeRate,
	})
	if errors.Is(err, errInvalidSignRequest) {
		return logical.ErrorResponse(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	signed := make([]map[string]interface{}, len(result.Inputs))
	for i, in := range result.Inputs {
		signed[i] = map[string]interface{}{
			"index":           in.Index,
			"address":         in.Address,
			"derivation_path": in.DerivationPath,
			"address_type":    in.AddressType.String(),
			"resolved":        in.Resolved,
		}
	}

	paid := make([]map[string]interface{}, len(outputs))
	for i, out := range outputs {
		addressType, err := wallet.GetAddressType(out.Address, network)
		if err != nil {
			return nil, err
		}
		paid[i] = map[string]interface{}{
			"address":      out.Address,
			"amount":       out.Amount,
			"address_type": addressType,
		}
	}

	respData := map[string]interface{}{
		"txid":         result.TxID,
		"hex":          result.Hex,
		"psbt":         result.PSBT,
		"fee":          result.Fee,
		"total_input":  result.TotalInput,
		"total_output": result.TotalOutput,
		"size":         result.Size,
		"vsize":        result.VSize,
		"inputs":       signed,
		"outputs":      paid,
	}

	if result.ChangeAddress != "" {
		respData["change_address"] = result.ChangeAddress
		respData["change_amount"] = result.ChangeAmount
	}

	b.Logger().Info("transaction signed", "wallet", name, "txid", result.TxID, "inputs", len(result.Inputs), "fee", result.Fee)
	return &logical.Response{Data: respData}, nil
}

const pathWalletSignHelpSynopsis = `
Build and sign a transaction offline.
`

const pathWalletSignHelpDescription = `
This endpoint builds a transaction from caller-supplied inputs and outputs and
signs it with the wallet's keys. Nothing is broadcast.

Each input names the derivation path of the key that owns it. The purpose of
the path selects how the input is added and signed:

  m/44'/...  P2PKH (legacy signature script)
  m/49'/...  P2SH-P2WPKH (witness plus redeem script)
  m/84'/...  P2WPKH (witness)

Any other purpose is spent as P2PKH. Every signed input is verified with the
script engine before the transaction is returned.

Example:
  $ vault write btc/wallets/my-wallet/sign \
      inputs='[{"txid":"...","vout":0,"value":100000,"derivation_path":"m/84'"'"'/0'"'"'/0'"'"'/0/0"}]' \
      outputs='[{"address":"bc1q...","amount":50000}]' \
      change_derivation_path="m/84'/0'/0'/1/0" fee_rate=5

Response:
  - txid, hex: The signed transaction
  - psbt: The same transaction as an unsigned base64 PSBT
  - fee, vsize, size: Fee paid and transaction size
  - change_address, change_amount: Change output, when above the dust limit
  - inputs: Address and resolved address type of each input
  - outputs: Address, amount and script type (p2pkh, p2sh, p2wpkh, ...) of each payment

All amounts are in satoshis (1 BTC = 100,000,000 satoshis).
`
