package contract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
)

// KeyKind tags the storage slots the contract uses.
type KeyKind int

const (
	KeyOwner KeyKind = iota
	KeyValidSources
	KeyRejectedCoin
	KeyBalance
)

// Key addresses one storage slot. ID is the coin id for KeyRejectedCoin and
// the account address for KeyBalance; it is empty otherwise.
type Key struct {
	Kind KeyKind
	ID   string
}

func OwnerKey() Key                 { return Key{Kind: KeyOwner} }
func ValidSourcesKey() Key          { return Key{Kind: KeyValidSources} }
func RejectedCoinKey(id string) Key { return Key{Kind: KeyRejectedCoin, ID: id} }
func BalanceKey(address string) Key { return Key{Kind: KeyBalance, ID: address} }

func (k Key) String() string {
	switch k.Kind {
	case KeyOwner:
		return "owner"
	case KeyValidSources:
		return "valid_sources"
	case KeyRejectedCoin:
		return "rejected:" + k.ID
	case KeyBalance:
		return "balance:" + k.ID
	default:
		return fmt.Sprintf("unknown(%d):%s", k.Kind, k.ID)
	}
}

// Env is what an invocation sees of its host: storage, the invoker and a
// hash primitive. Returning an error from the invocation aborts it.
type Env interface {
	Get(key Key) (any, bool)
	Set(key Key, value any)
	Invoker() string
	SHA256(data []byte) [32]byte
	Logger() *slog.Logger
}

// MemoryHost executes invocations one at a time against in-memory storage.
// Writes are staged per invocation and committed only when it returns nil.
type MemoryHost struct {
	mu      sync.Mutex
	storage map[Key]any
	logger  *slog.Logger
}

type HostOption func(*MemoryHost)

func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *MemoryHost) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewMemoryHost(opts ...HostOption) *MemoryHost {
	h := &MemoryHost{
		storage: make(map[Key]any),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke runs fn as invoker. Staged writes are discarded when fn returns an
// error or ctx is already done.
func (h *MemoryHost) Invoke(ctx context.Context, invoker string, fn func(Env) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	env := &stagedEnv{
		committed: h.storage,
		staged:    make(map[Key]any),
		invoker:   invoker,
		logger:    h.logger.With("invoker", invoker),
	}
	if err := fn(env); err != nil {
		return err
	}
	maps.Copy(h.storage, env.staged)
	return nil
}

// Snapshot returns the committed value of key.
func (h *MemoryHost) Snapshot(key Key) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.storage[key]
	return v, ok
}

type stagedEnv struct {
	committed map[Key]any
	staged    map[Key]any
	invoker   string
	logger    *slog.Logger
}

func (e *stagedEnv) Get(key Key) (any, bool) {
	if v, ok := e.staged[key]; ok {
		return v, true
	}
	v, ok := e.committed[key]
	return v, ok
}

func (e *stagedEnv) Set(key Key, value any) {
	e.staged[key] = value
}

func (e *stagedEnv) Invoker() string {
	return e.invoker
}

func (e *stagedEnv) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (e *stagedEnv) Logger() *slog.Logger {
	return e.logger
}
