package addresstype

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedDerivationPath is returned when a derivation path has no
// numeric purpose segment.
var ErrMalformedDerivationPath = errors.New("malformed derivation path")

// ExtractPurpose returns the BIP44 purpose of a path of the form
// m/purpose'/coin'/account'/... Only the purpose segment is inspected.
func ExtractPurpose(path string) (int, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return 0, fmt.Errorf("%w: %q has no purpose segment", ErrMalformedDerivationPath, path)
	}

	segment := strings.TrimSuffix(segments[1], "'")
	purpose, err := strconv.Atoi(segment)
	if err != nil {
		return 0, fmt.Errorf("%w: %q has non-numeric purpose %q", ErrMalformedDerivationPath, path, segments[1])
	}
	return purpose, nil
}

// Resolver selects address types for derivation paths. Paths whose purpose
// matches no registered type resolve to Legacy.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Registry returns the registry the resolver reads from.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// ResolveType returns the identifier registered for the path's purpose. The
// boolean is false when the purpose is not registered; that is not an error.
func (r *Resolver) ResolveType(path string) (Identifier, bool, error) {
	purpose, err := ExtractPurpose(path)
	if err != nil {
		return Unspecified, false, err
	}
	d, ok := r.registry.ByPurpose(purpose)
	if !ok {
		return Unspecified, false, nil
	}
	return d.ID, true, nil
}

// Resolve returns the descriptor for the path, or the Legacy descriptor when
// the purpose is not registered. The boolean reports whether the purpose matched.
func (r *Resolver) Resolve(path string) (Descriptor, bool, error) {
	purpose, err := ExtractPurpose(path)
	if err != nil {
		return Descriptor{}, false, err
	}
	d, ok := r.ResolvePurpose(purpose)
	return d, ok, nil
}

// ResolvePurpose is Resolve for an already extracted purpose.
func (r *Resolver) ResolvePurpose(purpose int) (Descriptor, bool) {
	if d, ok := r.registry.ByPurpose(purpose); ok {
		return d, true
	}
	return r.registry.Legacy(), false
}

// AddressFunc returns the address function for the path's address type.
func (r *Resolver) AddressFunc(path string) (AddressFunc, error) {
	d, _, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	return d.Address, nil
}

// SignInputFunc returns the input signing function for the path's address type.
func (r *Resolver) SignInputFunc(path string) (SignInputFunc, error) {
	d, _, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	return d.SignInput, nil
}

// AddInputFunc returns the input construction function for the path's address type.
func (r *Resolver) AddInputFunc(path string) (AddInputFunc, error) {
	d, _, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	return d.AddInput, nil
}
