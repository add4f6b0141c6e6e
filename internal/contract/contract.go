// Package contract models the on-chain stable-value contract: a fixed
// transfer amount, an owner-managed set of valid sources and a permanent
// register of rejected coins. Operations run inside a host invocation and
// any error aborts the invocation with all of its writes.
package contract

import (
	"errors"
	"fmt"
	"maps"
)

// StableValue is the only amount the contract moves.
const StableValue int64 = 314159

var (
	ErrNotInitialized = errors.New("contract not initialized")
	ErrUnauthorized   = errors.New("invoker is not the contract owner")
	ErrInvalidSource  = errors.New("source is not a valid source")
	ErrWrongAmount    = errors.New("amount differs from the stable value")
	ErrRejectedCoin   = errors.New("coin is rejected")
	ErrNotRejected    = errors.New("coin is not rejected")
)

// Init makes the invoker the owner and seeds the valid sources. Calling it
// again on an initialized contract requires the owner.
func Init(env Env, sources ...string) error {
	if _, ok := env.Get(OwnerKey()); ok {
		if err := checkOwner(env); err != nil {
			return err
		}
	}
	valid := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s != "" {
			valid[s] = true
		}
	}
	env.Set(OwnerKey(), env.Invoker())
	env.Set(ValidSourcesKey(), valid)
	env.Logger().Info("contract initialized", "sources", len(valid))
	return nil
}

// MarkRejected permanently records coinID as rejected. Owner only.
func MarkRejected(env Env, coinID, reason string) error {
	if err := checkOwner(env); err != nil {
		return err
	}
	env.Set(RejectedCoinKey(coinID), true)
	env.Logger().Info("coin rejected", "coin_id", coinID, "reason", reason)
	return nil
}

// CheckRejected reports whether coinID is rejected. Only the raw id is
// consulted.
func CheckRejected(env Env, coinID string) bool {
	v, ok := env.Get(RejectedCoinKey(coinID))
	if !ok {
		return false
	}
	rejected, _ := v.(bool)
	return rejected
}

// Transfer moves exactly StableValue of coinID from the invoker to to.
func Transfer(env Env, to string, amount int64, coinID string) error {
	from := env.Invoker()
	if err := checkValidSource(env, from); err != nil {
		return err
	}
	if amount != StableValue {
		return fmt.Errorf("%w: got %d", ErrWrongAmount, amount)
	}
	if CheckRejected(env, coinID) {
		env.Logger().Warn("rejected coin transfer", "coin_id", coinID, "to", to)
		return fmt.Errorf("%w: %s", ErrRejectedCoin, coinID)
	}
	env.Set(BalanceKey(from), Balance(env, from)-amount)
	env.Set(BalanceKey(to), Balance(env, to)+amount)
	env.Logger().Info("transfer accepted", "from", from, "to", to, "amount", amount)
	return nil
}

// Mint credits to with StableValue. Owner only; source must be valid.
func Mint(env Env, to string, amount int64, coinID, source string) error {
	if err := checkOwner(env); err != nil {
		return err
	}
	if err := checkValidSource(env, source); err != nil {
		return err
	}
	if amount != StableValue {
		return fmt.Errorf("%w: got %d", ErrWrongAmount, amount)
	}
	if CheckRejected(env, coinID) {
		return fmt.Errorf("%w: %s", ErrRejectedCoin, coinID)
	}
	env.Set(BalanceKey(to), Balance(env, to)+amount)
	env.Logger().Info("minted", "to", to, "amount", amount)
	return nil
}

// BurnRejected zeroes the balance held under a rejected coin's address.
// Owner only.
func BurnRejected(env Env, coinID string) error {
	if err := checkOwner(env); err != nil {
		return err
	}
	if !CheckRejected(env, coinID) {
		return fmt.Errorf("%w: %s", ErrNotRejected, coinID)
	}
	env.Set(BalanceKey(coinID), int64(0))
	env.Logger().Info("burned rejected coin", "coin_id", coinID)
	return nil
}

// UpdateValidSource adds or revokes a valid source. Owner only.
func UpdateValidSource(env Env, source string, valid bool) error {
	if err := checkOwner(env); err != nil {
		return err
	}
	sources, err := validSources(env)
	if err != nil {
		return err
	}
	next := maps.Clone(sources)
	next[source] = valid
	env.Set(ValidSourcesKey(), next)
	return nil
}

// IntegrityHash returns the host's SHA-256 of data.
func IntegrityHash(env Env, data []byte) [32]byte {
	return env.SHA256(data)
}

// Balance returns the balance of address, zero when never credited.
func Balance(env Env, address string) int64 {
	v, ok := env.Get(BalanceKey(address))
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func checkOwner(env Env) error {
	v, ok := env.Get(OwnerKey())
	if !ok {
		return ErrNotInitialized
	}
	if owner, _ := v.(string); owner != env.Invoker() {
		return ErrUnauthorized
	}
	return nil
}

func validSources(env Env) (map[string]bool, error) {
	v, ok := env.Get(ValidSourcesKey())
	if !ok {
		return nil, ErrNotInitialized
	}
	sources, _ := v.(map[string]bool)
	return sources, nil
}

func checkValidSource(env Env, source string) error {
	sources, err := validSources(env)
	if err != nil {
		return err
	}
	if !sources[source] {
		return fmt.Errorf("%w: %s", ErrInvalidSource, source)
	}
	return nil
}
