package contract

import (
	"context"
	"errors"
	"fmt"

	"qgate/internal/ledger"
)

// Client invokes contract operations on a host on behalf of one account.
type Client struct {
	host    *MemoryHost
	account string
}

// NewClient binds host to the account that invokes every call.
func NewClient(host *MemoryHost, account string) (*Client, error) {
	if host == nil {
		return nil, errors.New("contract host is required")
	}
	if account == "" {
		return nil, errors.New("invoking account is required")
	}
	return &Client{host: host, account: account}, nil
}

func (c *Client) Account() string {
	return c.account
}

func (c *Client) Init(ctx context.Context, sources ...string) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return Init(env, sources...)
	})
}

func (c *Client) MarkRejected(ctx context.Context, coinID, reason string) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return MarkRejected(env, coinID, reason)
	})
}

func (c *Client) CheckRejected(ctx context.Context, coinID string) (bool, error) {
	var rejected bool
	err := c.host.Invoke(ctx, c.account, func(env Env) error {
		rejected = CheckRejected(env, coinID)
		return nil
	})
	return rejected, err
}

func (c *Client) Transfer(ctx context.Context, to string, amount int64, coinID string) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return Transfer(env, to, amount, coinID)
	})
}

func (c *Client) Mint(ctx context.Context, to string, amount int64, coinID, source string) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return Mint(env, to, amount, coinID, source)
	})
}

func (c *Client) BurnRejected(ctx context.Context, coinID string) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return BurnRejected(env, coinID)
	})
}

func (c *Client) UpdateValidSource(ctx context.Context, source string, valid bool) error {
	return c.host.Invoke(ctx, c.account, func(env Env) error {
		return UpdateValidSource(env, source, valid)
	})
}

func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	var n int64
	err := c.host.Invoke(ctx, c.account, func(env Env) error {
		n = Balance(env, address)
		return nil
	})
	return n, err
}

// Registrar mirrors provenance rejections into the contract register.
type Registrar struct {
	client *Client
	reason string
}

func NewRegistrar(client *Client) *Registrar {
	return &Registrar{client: client, reason: "provenance"}
}

// RecordRejection marks id rejected on chain.
func (r *Registrar) RecordRejection(ctx context.Context, id ledger.AssetID) error {
	if err := r.client.MarkRejected(ctx, id.String(), r.reason); err != nil {
		return fmt.Errorf("mark %s rejected: %w", id, err)
	}
	return nil
}

// Settler runs ledger payments through the contract, invoked as the
// transaction source, so a rejected coin or a wrong amount aborts them.
type Settler struct {
	host *MemoryHost
}

func NewSettler(host *MemoryHost) *Settler {
	return &Settler{host: host}
}

// Settle applies every native payment of tx in one invocation.
func (s *Settler) Settle(ctx context.Context, tx *ledger.Transaction) error {
	return s.host.Invoke(ctx, tx.Source, func(env Env) error {
		for _, p := range tx.Payments {
			if p.Asset != ledger.NativeAsset {
				continue
			}
			if err := Transfer(env, p.Destination, p.Amount, tx.AssetID.String()); err != nil {
				return err
			}
		}
		return nil
	})
}
