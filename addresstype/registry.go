// Package addresstype maps BIP44 purpose values to the Bitcoin address types a
// wallet derives, and bundles each type's metadata with the functions that
// derive addresses, add transaction inputs, and sign those inputs.
package addresstype

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/djschnei21/vault-plugin-btc-addresses/wallet"
)

var (
	// ErrUnknownIdentifier is returned when an address type is requested by a
	// name or identifier outside the supported set. It has no fallback.
	ErrUnknownIdentifier = errors.New("unknown address type")

	// ErrInvalidRegistry is returned when a registry table violates one of
	// its construction invariants.
	ErrInvalidRegistry = errors.New("invalid address type registry")
)

// Identifier names a supported address type.
type Identifier int

const (
	// Unspecified is the zero value. Lookups treat it as Legacy.
	Unspecified Identifier = iota
	// Legacy is pay-to-pubkey-hash (BIP44).
	Legacy
	// SegwitWrapped is P2WPKH nested in P2SH (BIP49).
	SegwitWrapped
	// SegwitNative is bech32 P2WPKH (BIP84).
	SegwitNative
)

// String returns the script-form name of the identifier.
func (id Identifier) String() string {
	switch id {
	case Legacy:
		return "P2PKH"
	case SegwitWrapped:
		return "P2SH-P2WPKH"
	case SegwitNative:
		return "P2WPKH"
	case Unspecified:
		return ""
	default:
		return fmt.Sprintf("Identifier(%d)", int(id))
	}
}

// Name returns the symbolic name of the identifier.
func (id Identifier) Name() string {
	switch id {
	case Legacy:
		return "legacy"
	case SegwitWrapped:
		return "segwit-wrapped"
	case SegwitNative:
		return "segwit-native"
	default:
		return ""
	}
}

func (id Identifier) known() bool {
	return id == Legacy || id == SegwitWrapped || id == SegwitNative
}

// ParseIdentifier converts a name to an Identifier. The empty string maps to
// Legacy. Both script-form names (P2PKH, P2SH-P2WPKH, P2WPKH) and symbolic
// names (legacy, segwit-wrapped, segwit-native) are accepted, case-insensitively.
func ParseIdentifier(name string) (Identifier, error) {
	if name == "" {
		return Legacy, nil
	}
	for _, id := range []Identifier{Legacy, SegwitWrapped, SegwitNative} {
		if strings.EqualFold(name, id.String()) || strings.EqualFold(name, id.Name()) {
			return id, nil
		}
	}
	return Unspecified, fmt.Errorf("%w: %q", ErrUnknownIdentifier, name)
}

// AddressFunc encodes a public key as an address of one type.
type AddressFunc func(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error)

// AddInputFunc appends a UTXO of one type as an input of the transaction being
// built and returns the new input's index.
type AddInputFunc func(b *wallet.TxBuilder, utxo wallet.UTXO) (int, error)

// SignInputFunc signs the input at index, which must spend an output of one type.
type SignInputFunc func(b *wallet.TxBuilder, index int, privKey *btcec.PrivateKey) error

// Functions is the capability triple an address type delegates to.
type Functions struct {
	Address   AddressFunc
	SignInput SignInputFunc
	AddInput  AddInputFunc
}

// Descriptor describes one address type.
type Descriptor struct {
	ID          Identifier
	Purpose     int
	Title       string
	Description string
	Warning     string
	Functions
}

// Registry is an immutable set of descriptors. It is safe for concurrent use.
type Registry struct {
	descriptors []Descriptor
	legacy      int
}

// metadata is the static address type table. Functions are injected by NewRegistry.
var metadata = []Descriptor{
	{
		ID:          Legacy,
		Purpose:     44,
		Title:       "Legacy",
		Description: "Legacy addresses. We recommend using segwit addresses instead.",
	},
	{
		ID:          SegwitWrapped,
		Purpose:     49,
		Title:       "Segwit",
		Description: "Recommended address type. Lower tx size and fees compared to legacy.",
	},
	{
		ID:          SegwitNative,
		Purpose:     84,
		Title:       "Native Segwit (Bech32)",
		Description: "Native segwit addresses. Lowest tx size and fees.",
		Warning:     "Important! Not all wallets and services support sending to Bech32 addresses.",
	},
}

// NewRegistry builds the registry of supported address types, taking each
// type's functions from funcs. Every supported type must be present with all
// three functions set.
func NewRegistry(funcs map[Identifier]Functions) (*Registry, error) {
	table := make([]Descriptor, len(metadata))
	copy(table, metadata)
	for i := range table {
		f, ok := funcs[table[i].ID]
		if !ok {
			return nil, fmt.Errorf("%w: no functions for %s", ErrInvalidRegistry, table[i].ID)
		}
		table[i].Functions = f
	}
	for id := range funcs {
		if !id.known() {
			return nil, fmt.Errorf("%w: functions supplied for %s", ErrInvalidRegistry, id)
		}
	}
	return newRegistry(table)
}

func newRegistry(table []Descriptor) (*Registry, error) {
	r := &Registry{legacy: -1}
	seenID := make(map[Identifier]bool, len(table))
	seenPurpose := make(map[int]Identifier, len(table))

	for i, d := range table {
		if !d.ID.known() {
			return nil, fmt.Errorf("%w: entry %d has identifier %s", ErrInvalidRegistry, i, d.ID)
		}
		if seenID[d.ID] {
			return nil, fmt.Errorf("%w: duplicate identifier %s", ErrInvalidRegistry, d.ID)
		}
		seenID[d.ID] = true

		if other, dup := seenPurpose[d.Purpose]; dup {
			return nil, fmt.Errorf("%w: purpose %d used by both %s and %s", ErrInvalidRegistry, d.Purpose, other, d.ID)
		}
		seenPurpose[d.Purpose] = d.ID

		if d.Address == nil || d.SignInput == nil || d.AddInput == nil {
			return nil, fmt.Errorf("%w: %s is missing a function", ErrInvalidRegistry, d.ID)
		}
		if d.ID == Legacy {
			r.legacy = i
		}
	}
	if r.legacy < 0 {
		return nil, fmt.Errorf("%w: no %s entry", ErrInvalidRegistry, Legacy)
	}

	r.descriptors = make([]Descriptor, len(table))
	copy(r.descriptors, table)
	return r, nil
}

// ByIdentifier returns the descriptor for id. Unspecified returns Legacy.
func (r *Registry) ByIdentifier(id Identifier) (Descriptor, error) {
	if id == Unspecified {
		return r.Legacy(), nil
	}
	for _, d := range r.descriptors {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, id)
}

// Lookup returns the descriptor for a name accepted by ParseIdentifier.
// The empty name returns Legacy.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	id, err := ParseIdentifier(name)
	if err != nil {
		return Descriptor{}, err
	}
	return r.ByIdentifier(id)
}

// ByPurpose returns the descriptor whose BIP44 purpose equals purpose.
// The boolean is false when no address type uses that purpose.
func (r *Registry) ByPurpose(purpose int) (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.Purpose == purpose {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Legacy returns the Legacy descriptor, the fallback for unresolved paths.
func (r *Registry) Legacy() Descriptor {
	return r.descriptors[r.legacy]
}

// Descriptors returns all descriptors in declaration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}
