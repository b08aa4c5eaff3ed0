// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain"
)

const (
	pollInterval   = 500 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

type node struct {
	url string
	rpc *rpc.Client
}

// Client is a thin solana-go adapter that rotates across the configured RPC
// nodes. A call that fails on one node is retried once on each other node;
// preflight rejections are returned immediately.
type Client struct {
	mu      sync.Mutex
	nodes   []node
	current int

	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewClient creates a client for urls. confirmTimeout bounds
// WaitForTransactionConfirmation; zero selects 30s.
func NewClient(urls []string, confirmTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}
	nodes := make([]node, len(urls))
	for i, u := range urls {
		nodes[i] = node{url: u, rpc: rpc.New(u)}
	}
	if confirmTimeout <= 0 {
		confirmTimeout = defaultTimeout
	}
	return &Client{
		nodes:          nodes,
		confirmTimeout: confirmTimeout,
		logger:         logger.Named("solbc-client"),
	}, nil
}

func (c *Client) next() node {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodes[c.current]
	c.current = (c.current + 1) % len(c.nodes)
	return n
}

func (c *Client) do(ctx context.Context, method string, fn func(*rpc.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(c.nodes); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := c.next()
		err := fn(n.rpc)
		if err == nil {
			return nil
		}
		lastErr = &Error{Err: err, NodeURL: n.url, Method: method}
		if IsSimulationFailure(err) {
			return lastErr
		}
		c.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", n.url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}

// GetRecentBlockhash returns the latest finalized blockhash.
func (c *Client) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.do(ctx, "getLatestBlockhash", func(r *rpc.Client) error {
		res, err := r.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		hash = res.Value.Blockhash
		return nil
	})
	return hash, err
}

// SendTransactionWithOpts submits a signed transaction.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts blockchain.TransactionOptions) (solana.Signature, error) {
	var sig solana.Signature
	err := c.do(ctx, "sendTransaction", func(r *rpc.Client) error {
		var err error
		sig, err = r.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: opts.PreflightCommitment,
		})
		return err
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
	}
	return sig, err
}

// GetAccountDataInto fetches pubkey and decodes its data into dst.
func (c *Client) GetAccountDataInto(ctx context.Context, pubkey solana.PublicKey, dst interface{}) error {
	return c.do(ctx, "getAccountInfo", func(r *rpc.Client) error {
		return r.GetAccountDataInto(ctx, pubkey, dst)
	})
}

// GetTokenAccountBalance returns the raw amount held by an SPL token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var raw string
	err := c.do(ctx, "getTokenAccountBalance", func(r *rpc.Client) error {
		res, err := r.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("%w: empty result", ErrInvalidTokenAmount)
		}
		raw = res.Value.Amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTokenAmount, raw)
	}
	return amount, nil
}

// WaitForTransactionConfirmation polls the signature status until it reaches
// commitment, fails on chain or the confirm timeout elapses.
func (c *Client) WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
			}
			return ctx.Err()
		case <-ticker.C:
			var status *rpc.SignatureStatusesResult
			err := c.do(ctx, "getSignatureStatuses", func(r *rpc.Client) error {
				res, err := r.GetSignatureStatuses(ctx, false, signature)
				if err != nil {
					return err
				}
				if res != nil && len(res.Value) > 0 {
					status = res.Value[0]
				}
				return nil
			})
			if err != nil {
				c.logger.Warn("Error getting signature status", zap.Error(err))
				continue
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, signature, status.Err)
			}
			if reached(status.ConfirmationStatus, commitment) {
				return nil
			}
		}
	}
}

func reached(got rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch got {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}

// GetTransactionLogs returns the log messages of a confirmed transaction.
func (c *Client) GetTransactionLogs(ctx context.Context, signature solana.Signature) ([]string, error) {
	var logs []string
	maxVersion := uint64(0)
	err := c.do(ctx, "getTransaction", func(r *rpc.Client) error {
		res, err := r.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Meta == nil {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
		}
		logs = res.Meta.LogMessages
		return nil
	})
	return logs, err
}

var _ blockchain.Client = (*Client)(nil)
