package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// BIP39 seed of "abandon abandon ... about" with an empty passphrase
const testVectorSeed = "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"

func mustSeed(t *testing.T, s string) []byte {
	t.Helper()
	seed, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid seed hex: %v", err)
	}
	return seed
}

func TestGenerateSeed(t *testing.T) {
	t.Run("generates correct length seed", func(t *testing.T) {
		seed, err := GenerateSeed()
		if err != nil {
			t.Fatalf("GenerateSeed() error = %v", err)
		}
		if len(seed) != SeedLength {
			t.Errorf("GenerateSeed() length = %d, want %d", len(seed), SeedLength)
		}
	})

	t.Run("generates unique seeds", func(t *testing.T) {
		seed1, err := GenerateSeed()
		if err != nil {
			t.Fatalf("GenerateSeed() error = %v", err)
		}
		seed2, err := GenerateSeed()
		if err != nil {
			t.Fatalf("GenerateSeed() error = %v", err)
		}
		if bytes.Equal(seed1, seed2) {
			t.Error("GenerateSeed() generated identical seeds")
		}
	})
}

func TestNetworkParams(t *testing.T) {
	tests := []struct {
		name    string
		network string
		wantErr bool
	}{
		{"mainnet", "mainnet", false},
		{"testnet4", "testnet4", false},
		{"signet", "signet", false},
		{"invalid", "invalid", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := NetworkParams(tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("NetworkParams(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
				return
			}
			if !tt.wantErr && params == nil {
				t.Errorf("NetworkParams(%q) returned nil params", tt.network)
			}
		})
	}
}

func TestParseDerivationPath(t *testing.T) {
	h := uint32(hdkeychain.HardenedKeyStart)

	tests := []struct {
		name    string
		path    string
		want    []uint32
		wantErr bool
	}{
		{"master", "m", []uint32{}, false},
		{"bip44 receive", "m/44'/0'/0'/0/0", []uint32{h + 44, h, h, 0, 0}, false},
		{"h marker", "m/84h/1h/2h/1/7", []uint32{h + 84, h + 1, h + 2, 1, 7}, false},
		{"upper H marker", "M/49H/0H/0H", []uint32{h + 49, h, h}, false},
		{"missing root", "44'/0'/0'", nil, true},
		{"empty segment", "m//0", nil, true},
		{"non-numeric", "m/abc'/0", nil, true},
		{"negative", "m/-1/0", nil, true},
		{"out of range", "m/2147483648", nil, true},
		{"empty string", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDerivationPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDerivationPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDerivationPath) {
					t.Errorf("ParseDerivationPath(%q) error = %v, want ErrInvalidDerivationPath", tt.path, err)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseDerivationPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseDerivationPath(%q)[%d] = %d, want %d", tt.path, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDeriveKeyAtPath(t *testing.T) {
	seed := mustSeed(t, testVectorSeed)

	t.Run("returns private key at requested depth", func(t *testing.T) {
		key, err := DeriveKeyAtPath(seed, "mainnet", "m/84'/0'/0'/0/3")
		if err != nil {
			t.Fatalf("DeriveKeyAtPath() error = %v", err)
		}
		if !key.IsPrivate() {
			t.Error("DeriveKeyAtPath() returned non-private key")
		}
		if key.Depth() != 5 {
			t.Errorf("DeriveKeyAtPath() depth = %d, want 5", key.Depth())
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		k1, err := DeriveKeyAtPath(seed, "mainnet", "m/44'/0'/0'/0/1")
		if err != nil {
			t.Fatalf("DeriveKeyAtPath() error = %v", err)
		}
		k2, err := DeriveKeyAtPath(seed, "mainnet", "m/44'/0'/0'/0/1")
		if err != nil {
			t.Fatalf("DeriveKeyAtPath() error = %v", err)
		}
		if k1.String() != k2.String() {
			t.Error("DeriveKeyAtPath() returned different keys for the same path")
		}
	})

	t.Run("different paths give different keys", func(t *testing.T) {
		k1, _ := DeriveKeyAtPath(seed, "mainnet", "m/44'/0'/0'/0/0")
		k2, _ := DeriveKeyAtPath(seed, "mainnet", "m/49'/0'/0'/0/0")
		if k1.String() == k2.String() {
			t.Error("DeriveKeyAtPath() returned same key for different purposes")
		}
	})

	t.Run("fails for invalid network", func(t *testing.T) {
		if _, err := DeriveKeyAtPath(seed, "invalid", "m/44'/0'/0'"); err == nil {
			t.Error("DeriveKeyAtPath() should fail for invalid network")
		}
	})

	t.Run("fails for invalid path", func(t *testing.T) {
		if _, err := DeriveKeyAtPath(seed, "mainnet", "bad-path"); err == nil {
			t.Error("DeriveKeyAtPath() should fail for invalid path")
		}
	})
}

func TestDerivationPathForPurpose(t *testing.T) {
	tests := []struct {
		name    string
		purpose uint32
		network string
		account uint32
		change  uint32
		index   uint32
		want    string
	}{
		{"bip44 mainnet", BIP44Purpose, "mainnet", 0, 0, 0, "m/44'/0'/0'/0/0"},
		{"bip49 testnet4 change", BIP49Purpose, "testnet4", 0, 1, 3, "m/49'/1'/0'/1/3"},
		{"bip84 signet account 2", BIP84Purpose, "signet", 2, 0, 9, "m/84'/1'/2'/0/9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivationPathForPurpose(tt.purpose, tt.network, tt.account, tt.change, tt.index)
			if got != tt.want {
				t.Errorf("DerivationPathForPurpose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPrivateKey(t *testing.T) {
	seed := mustSeed(t, testVectorSeed)

	key, err := DeriveKeyAtPath(seed, "mainnet", "m/44'/0'/0'/0/0")
	if err != nil {
		t.Fatalf("DeriveKeyAtPath() error = %v", err)
	}

	if _, err := GetPrivateKey(key); err != nil {
		t.Errorf("GetPrivateKey() error = %v", err)
	}

	pub, err := key.Neuter()
	if err != nil {
		t.Fatalf("Neuter() error = %v", err)
	}
	if _, err := GetPrivateKey(pub); err == nil {
		t.Error("GetPrivateKey() should fail for a public extended key")
	}
	if _, err := GetPublicKey(pub); err != nil {
		t.Errorf("GetPublicKey() error = %v", err)
	}
}
