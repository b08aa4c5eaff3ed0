// Package eventlistener streams vault events from program logs over the
// Solana websocket API.
package eventlistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
	maxAttempts    = 5
	writeTimeout   = 5 * time.Second
)

var (
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("listener closed")
	// ErrAlreadySubscribed is returned by a second Subscribe; one connection
	// feeds one handler.
	ErrAlreadySubscribed = errors.New("listener already subscribed")
)

// Config selects the endpoint and the program whose logs are streamed.
type Config struct {
	URL        string
	ProgramID  solana.PublicKey
	Vault      vault.Address // label for decoded events; logs do not carry it
	Commitment rpc.CommitmentType
}

// Notification is one successful transaction that emitted vault events.
type Notification struct {
	Signature string
	Slot      uint64
	Events    []vault.Event
}

// Handler receives notifications in arrival order.
type Handler func(Notification)

// Listener holds one logsSubscribe subscription and reconnects when the
// connection drops.
type Listener struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	started   bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New dials cfg.URL and subscribes to logs mentioning cfg.ProgramID.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Listener, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is empty")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	l := &Listener{
		cfg:    cfg,
		logger: logger.Named("event_listener"),
		done:   make(chan struct{}),
	}
	conn, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return l, nil
}

type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func (l *Listener) connect(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, l.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	req, err := json.Marshal(subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []any{
			map[string][]string{"mentions": {l.cfg.ProgramID.String()}},
			map[string]string{"commitment": string(l.cfg.Commitment)},
		},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wsutil.WriteClientText(conn, req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send logsSubscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	l.logger.Debug("Subscribed to program logs",
		zap.String("url", l.cfg.URL),
		zap.String("program", l.cfg.ProgramID.String()))
	return conn, nil
}

// Subscribe starts delivering notifications to handler until ctx ends, Close
// is called, or reconnecting fails maxAttempts times.
func (l *Listener) Subscribe(ctx context.Context, handler Handler) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadySubscribed
	}
	l.started = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop(ctx, handler)
	}()
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()
	return nil
}

// Done is closed when the listener stops.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close stops the listener and closes the connection.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		if l.conn != nil {
			err = l.conn.Close()
		}
		l.mu.Unlock()
	})
	return err
}

func (l *Listener) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Listener) readLoop(ctx context.Context, handler Handler) {
	defer l.Close()
	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if l.closed() {
				return
			}
			l.logger.Warn("Websocket read failed, reconnecting", zap.Error(err))
			if err := l.reconnect(ctx); err != nil {
				l.logger.Error("Reconnect failed", zap.Error(err))
				return
			}
			continue
		}

		n, ok, err := parseMessage(data, l.cfg.Vault)
		if err != nil {
			l.logger.Warn("Skipping websocket message", zap.Error(err))
			continue
		}
		if ok {
			handler(n)
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) error {
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialBackoff
	policy.MaxInterval = maxBackoff

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		if l.closed() {
			return nil, backoff.Permanent(ErrClosed)
		}
		return l.connect(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Debug("Reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", next))
		}))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed() {
		conn.Close()
		return ErrClosed
	}
	l.conn = conn
	return nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type logsNotification struct {
	Result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string          `json:"signature"`
			Err       json.RawMessage `json:"err"`
			Logs      []string        `json:"logs"`
		} `json:"value"`
	} `json:"result"`
	Subscription uint64 `json:"subscription"`
}

type message struct {
	ID     *int              `json:"id"`
	Method string            `json:"method"`
	Error  *rpcError         `json:"error"`
	Params *logsNotification `json:"params"`
}

// parseMessage decodes one websocket frame. ok is false for subscription
// acknowledgements, failed transactions and transactions without vault
// events.
func parseMessage(data []byte, vaultID vault.Address) (Notification, bool, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Notification{}, false, fmt.Errorf("decode message: %w", err)
	}
	if msg.Error != nil {
		return Notification{}, false, fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	if msg.Method != "logsNotification" || msg.Params == nil {
		return Notification{}, false, nil
	}

	v := msg.Params.Result.Value
	if len(v.Err) > 0 && string(v.Err) != "null" {
		return Notification{}, false, nil
	}
	evs, err := solbc.DecodeProgramLogs(v.Logs, vaultID)
	if err != nil {
		return Notification{}, false, fmt.Errorf("transaction %s: %w", v.Signature, err)
	}
	if len(evs) == 0 {
		return Notification{}, false, nil
	}
	return Notification{
		Signature: v.Signature,
		Slot:      msg.Params.Result.Context.Slot,
		Events:    evs,
	}, true, nil
}
