// Package onramp acquires, caches, and refreshes the short-lived session
// tokens required to open an externally hosted onramp checkout widget.
//
// A token is requested from a remote issuing endpoint, scoped to a set of
// wallet addresses and optional assets, and is valid for a fixed five-minute
// window. The Client consults a tokenstore.Store before every network call so
// repeated checkout opens within the window reuse the cached token, retries
// failed issuance with exponential backoff and jitter, and de-duplicates
// concurrent acquisitions for the same scope. A Refresher can proactively
// replace the cached token shortly before it expires.
//
// Layers & Roles
//
//	Client     -> issuance, caching policy, retry, in-flight de-duplication
//	Store      -> durability (memory, file, or Redis backed)
//	Refresher  -> cancellable timer that re-acquires ahead of expiry
//
// The issuing endpoint and the hosted checkout page are external
// collaborators: the client only POSTs JSON to the former and builds a URL
// for the latter. Client-side expiry checks are advisory; the issuer remains
// the sole authority on whether a token is redeemable.
package onramp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"slices"
)

// Address is a wallet address together with the blockchain networks it can
// receive on.
type Address struct {
	Address     string   `json:"address"`
	Blockchains []string `json:"blockchains"`
}

// SessionParams identifies the scope a session token is minted for. It is
// also the JSON body sent to the issuing endpoint.
type SessionParams struct {
	Addresses []Address `json:"addresses"`
	Assets    []string  `json:"assets,omitempty"`
}

func (p SessionParams) validate() error {
	if len(p.Addresses) == 0 {
		return errors.New("session params require at least one address")
	}
	for _, a := range p.Addresses {
		if a.Address == "" {
			return errors.New("session params contain an empty address")
		}
		if len(a.Blockchains) == 0 {
			return errors.New("address " + a.Address + " lists no blockchains")
		}
	}
	return nil
}

// ScopeKey returns the canonical cache key for these params. Two params that
// differ only in ordering of addresses, blockchains, or assets produce the
// same key; any difference in scope produces a different one, so a token
// minted for one wallet or asset set is never served for another.
func (p SessionParams) ScopeKey() string {
	canon := SessionParams{
		Addresses: make([]Address, len(p.Addresses)),
		Assets:    slices.Clone(p.Assets),
	}
	for i, a := range p.Addresses {
		canon.Addresses[i] = Address{
			Address:     a.Address,
			Blockchains: slices.Clone(a.Blockchains),
		}
		slices.Sort(canon.Addresses[i].Blockchains)
	}
	slices.SortFunc(canon.Addresses, func(a, b Address) int {
		if a.Address < b.Address {
			return -1
		}
		if a.Address > b.Address {
			return 1
		}
		return 0
	})
	slices.Sort(canon.Assets)

	data, err := json.Marshal(canon)
	if err != nil {
		// Marshaling a tree of strings cannot fail.
		panic("onramp: marshal session params: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
