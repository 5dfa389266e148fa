package btc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/go-hclog"

	"github.com/djschnei21/vault-plugin-btc-addresses/addresstype"
	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

// BIP39 seed of "abandon abandon ... about" with an empty passphrase
const testSeedHex = "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"

const testTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := hex.DecodeString(testSeedHex)
	if err != nil {
		t.Fatalf("invalid seed hex: %v", err)
	}
	return seed
}

// testAddress derives the address at path with the resolved address function
func testAddress(t *testing.T, r *addresstype.Resolver, seed []byte, network, path string) string {
	t.Helper()

	fn, err := r.AddressFunc(path)
	if err != nil {
		t.Fatalf("AddressFunc(%q) error = %v", path, err)
	}
	key, err := wallet.DeriveKeyAtPath(seed, network, path)
	if err != nil {
		t.Fatalf("DeriveKeyAtPath(%q) error = %v", path, err)
	}
	pubKey, err := wallet.GetPublicKey(key)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	params, err := wallet.NetworkParams(network)
	if err != nil {
		t.Fatalf("NetworkParams() error = %v", err)
	}
	addr, err := fn(pubKey, params)
	if err != nil {
		t.Fatalf("address function error = %v", err)
	}
	return addr
}

func testResolver(t *testing.T) *addresstype.Resolver {
	t.Helper()
	registry, err := newRegistry()
	if err != nil {
		t.Fatalf("newRegistry() error = %v", err)
	}
	return addresstype.NewResolver(registry)
}

func TestResolveInputKey(t *testing.T) {
	r := testResolver(t)
	seed := testSeed(t)

	tests := []struct {
		network  string
		path     string
		want     addresstype.Identifier
		resolved bool
		address  string
	}{
		{"mainnet", "m/44'/0'/0'/0/0", addresstype.Legacy, true, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"},
		{"testnet4", "m/49'/1'/0'/0/0", addresstype.SegwitWrapped, true, "2Mww8dCYPUpKHofjgcXcBCEGmniw9CoaiD"},
		{"mainnet", "m/84'/0'/0'/0/0", addresstype.SegwitNative, true, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		{"mainnet", "m/999'/0'/0'/0/0", addresstype.Legacy, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			builder, err := wallet.NewTxBuilder(tt.network)
			if err != nil {
				t.Fatalf("NewTxBuilder() error = %v", err)
			}

			k, err := resolveInputKey(hclog.NewNullLogger(), r, builder, seed, tt.network, tt.path)
			if err != nil {
				t.Fatalf("resolveInputKey() error = %v", err)
			}
			if k.descriptor.ID != tt.want || k.resolved != tt.resolved {
				t.Errorf("resolveInputKey() = (%s, %v), want (%s, %v)", k.descriptor.ID, k.resolved, tt.want, tt.resolved)
			}

			want := tt.address
			if want == "" {
				want = testAddress(t, r, seed, tt.network, tt.path)
			}
			if k.address != want {
				t.Errorf("address = %s, want %s", k.address, want)
			}

			// the add function must accept the address it was resolved with
			if _, err := k.addInput(builder, wallet.UTXO{TxID: testTxID, Vout: 0, Value: 10000, Address: k.address}); err != nil {
				t.Errorf("addInput() error = %v", err)
			}
			if k.signInput == nil {
				t.Error("signInput is nil")
			}
		})
	}

	builder, err := wallet.NewTxBuilder("mainnet")
	if err != nil {
		t.Fatalf("NewTxBuilder() error = %v", err)
	}
	if _, err := resolveInputKey(hclog.NewNullLogger(), r, builder, seed, "mainnet", "bad-path"); !errors.Is(err, addresstype.ErrMalformedDerivationPath) {
		t.Errorf("resolveInputKey(bad-path) error = %v, want ErrMalformedDerivationPath", err)
	}
}

func TestBuildSignedTransactionAllTypes(t *testing.T) {
	r := testResolver(t)
	seed := testSeed(t)
	const network = "testnet4"

	inputs := []signInput{
		{TxID: testTxID, Vout: 0, Value: 100000, DerivationPath: "m/44'/1'/0'/0/0"},
		{TxID: testTxID, Vout: 1, Value: 100000, DerivationPath: "m/49'/1'/0'/0/0"},
		{TxID: testTxID, Vout: 2, Value: 100000, DerivationPath: "m/84'/1'/0'/0/0"},
		{TxID: testTxID, Vout: 3, Value: 100000, DerivationPath: "m/999'/1'/0'/0/0"},
	}
	destination := testAddress(t, r, seed, network, "m/84'/1'/1'/0/0")

	result, err := buildSignedTransaction(hclog.NewNullLogger(), r, signRequest{
		Seed:                 seed,
		Network:              network,
		Inputs:               inputs,
		Outputs:              []signOutput{{Address: destination, Amount: 150000}},
		ChangeDerivationPath: "m/84'/1'/0'/1/0",
		FeeRate:              5,
	})
	if err != nil {
		t.Fatalf("buildSignedTransaction() error = %v", err)
	}

	wantTypes := []struct {
		id       addresstype.Identifier
		resolved bool
	}{
		{addresstype.Legacy, true},
		{addresstype.SegwitWrapped, true},
		{addresstype.SegwitNative, true},
		{addresstype.Legacy, false},
	}
	for i, want := range wantTypes {
		got := result.Inputs[i]
		if got.AddressType != want.id || got.Resolved != want.resolved {
			t.Errorf("input %d = (%s, %v), want (%s, %v)", i, got.AddressType, got.Resolved, want.id, want.resolved)
		}
		if got.Address != testAddress(t, r, seed, network, inputs[i].DerivationPath) {
			t.Errorf("input %d address = %s, does not match its derivation path", i, got.Address)
		}
	}

	if result.TotalInput != 400000 {
		t.Errorf("TotalInput = %d, want 400000", result.TotalInput)
	}
	if result.Fee <= 0 || result.Fee != result.TotalInput-result.TotalOutput {
		t.Errorf("Fee = %d, want TotalInput-TotalOutput = %d", result.Fee, result.TotalInput-result.TotalOutput)
	}
	if result.ChangeAddress != testAddress(t, r, seed, network, "m/84'/1'/0'/1/0") {
		t.Errorf("ChangeAddress = %s, want the change path address", result.ChangeAddress)
	}
	if result.ChangeAmount != 400000-150000-result.Fee {
		t.Errorf("ChangeAmount = %d, want %d", result.ChangeAmount, 400000-150000-result.Fee)
	}
	if result.PSBT == "" {
		t.Error("PSBT is empty")
	}

	raw, err := hex.DecodeString(result.Hex)
	if err != nil {
		t.Fatalf("Hex is not hex: %v", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if tx.TxHash().String() != result.TxID {
		t.Errorf("TxID = %s, want %s", result.TxID, tx.TxHash())
	}
	if len(tx.TxIn) != 4 || len(tx.TxOut) != 2 {
		t.Fatalf("tx has %d inputs and %d outputs, want 4 and 2", len(tx.TxIn), len(tx.TxOut))
	}

	shapes := []struct {
		sigScript bool
		witness   bool
	}{
		{true, false},
		{true, true},
		{false, true},
		{true, false},
	}
	for i, want := range shapes {
		in := tx.TxIn[i]
		if (len(in.SignatureScript) > 0) != want.sigScript {
			t.Errorf("input %d signature script present = %v, want %v", i, len(in.SignatureScript) > 0, want.sigScript)
		}
		if (len(in.Witness) > 0) != want.witness {
			t.Errorf("input %d witness present = %v, want %v", i, len(in.Witness) > 0, want.witness)
		}
		if in.Sequence != wallet.SequenceRBF {
			t.Errorf("input %d sequence = %x, want RBF", i, in.Sequence)
		}
	}
}

func TestBuildSignedTransactionWithoutChange(t *testing.T) {
	r := testResolver(t)
	seed := testSeed(t)

	destination := testAddress(t, r, seed, "mainnet", "m/44'/0'/1'/0/0")
	result, err := buildSignedTransaction(hclog.NewNullLogger(), r, signRequest{
		Seed:    seed,
		Network: "mainnet",
		Inputs: []signInput{
			{TxID: testTxID, Vout: 0, Value: 60000, DerivationPath: "m/49'/0'/0'/0/1"},
		},
		Outputs: []signOutput{{Address: destination, Amount: 50000}},
		FeeRate: 2,
	})
	if err != nil {
		t.Fatalf("buildSignedTransaction() error = %v", err)
	}

	if result.Fee != 10000 {
		t.Errorf("Fee = %d, want 10000", result.Fee)
	}
	if result.ChangeAddress != "" {
		t.Errorf("ChangeAddress = %s, want none", result.ChangeAddress)
	}
}

func TestBuildSignedTransactionDustChange(t *testing.T) {
	r := testResolver(t)
	seed := testSeed(t)

	destination := testAddress(t, r, seed, "mainnet", "m/84'/0'/1'/0/0")
	result, err := buildSignedTransaction(hclog.NewNullLogger(), r, signRequest{
		Seed:    seed,
		Network: "mainnet",
		Inputs: []signInput{
			{TxID: testTxID, Vout: 0, Value: 50000 + 1500, DerivationPath: "m/84'/0'/0'/0/0"},
		},
		Outputs:              []signOutput{{Address: destination, Amount: 50000}},
		ChangeDerivationPath: "m/84'/0'/0'/1/0",
		FeeRate:              10,
	})
	if err != nil {
		t.Fatalf("buildSignedTransaction() error = %v", err)
	}

	if result.ChangeAddress != "" {
		t.Errorf("ChangeAddress = %s, want dust change dropped", result.ChangeAddress)
	}
	if result.Fee != 1500 {
		t.Errorf("Fee = %d, want 1500", result.Fee)
	}
}

func TestBuildSignedTransactionErrors(t *testing.T) {
	r := testResolver(t)
	seed := testSeed(t)
	destination := testAddress(t, r, seed, "mainnet", "m/84'/0'/1'/0/0")
	input := signInput{TxID: testTxID, Vout: 0, Value: 100000, DerivationPath: "m/84'/0'/0'/0/0"}
	output := signOutput{Address: destination, Amount: 50000}

	tests := []struct {
		name    string
		req     signRequest
		wantErr error
	}{
		{
			name:    "no inputs",
			req:     signRequest{Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
		{
			name:    "no outputs",
			req:     signRequest{Inputs: []signInput{input}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
		{
			name:    "malformed input path",
			req:     signRequest{Inputs: []signInput{{TxID: testTxID, Value: 100000, DerivationPath: "bad-path"}}, Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: addresstype.ErrMalformedDerivationPath,
		},
		{
			name:    "invalid key path",
			req:     signRequest{Inputs: []signInput{{TxID: testTxID, Value: 100000, DerivationPath: "m/84'/x/0"}}, Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: wallet.ErrInvalidDerivationPath,
		},
		{
			name:    "malformed change path",
			req:     signRequest{Inputs: []signInput{input}, Outputs: []signOutput{output}, ChangeDerivationPath: "change", FeeRate: 1},
			wantErr: addresstype.ErrMalformedDerivationPath,
		},
		{
			name:    "insufficient funds",
			req:     signRequest{Inputs: []signInput{{TxID: testTxID, Value: 10000, DerivationPath: "m/84'/0'/0'/0/0"}}, Outputs: []signOutput{{Address: destination, Amount: 9900}}, FeeRate: 10},
			wantErr: errInsufficientFunds,
		},
		{
			name:    "dust output",
			req:     signRequest{Inputs: []signInput{input}, Outputs: []signOutput{{Address: destination, Amount: 100}}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
		{
			name:    "invalid txid",
			req:     signRequest{Inputs: []signInput{{TxID: "zz", Value: 100000, DerivationPath: "m/84'/0'/0'/0/0"}}, Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
		{
			name:    "duplicate input",
			req:     signRequest{Inputs: []signInput{input, input}, Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
		{
			name:    "zero value input",
			req:     signRequest{Inputs: []signInput{{TxID: testTxID, DerivationPath: "m/84'/0'/0'/0/0"}}, Outputs: []signOutput{output}, FeeRate: 1},
			wantErr: errInvalidSignRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Seed = seed
			tt.req.Network = "mainnet"

			_, err := buildSignedTransaction(hclog.NewNullLogger(), r, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("buildSignedTransaction() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, errInvalidSignRequest) {
				t.Errorf("buildSignedTransaction() error = %v, want a request error", err)
			}
		})
	}
}
