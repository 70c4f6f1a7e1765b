package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscribeRequestID = 1
	pingInterval       = 30 * time.Second
	writeWait          = 10 * time.Second
)

// ErrFeedClosed is returned by Recv after Close.
var ErrFeedClosed = errors.New("program feed closed")

// AccountUpdate is one change notification for an account owned by the
// subscribed program.
type AccountUpdate struct {
	Key  Pubkey
	Data []byte
	Slot uint64
}

// ProgramFeed is a programSubscribe stream over the node's websocket endpoint.
// Recv must be called from a single goroutine.
type ProgramFeed struct {
	conn           *websocket.Conn
	program        Pubkey
	subscriptionID uint64

	done      chan struct{}
	closeOnce sync.Once
}

type subscribeResponse struct {
	ID     uint64    `json:"id"`
	Result uint64    `json:"result"`
	Error  *RPCError `json:"error"`
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Pubkey  string      `json:"pubkey"`
				Account accountJSON `json:"account"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// DialProgramFeed connects to wsURL and subscribes to every account owned by
// program. It returns once the node has confirmed the subscription.
func DialProgramFeed(ctx context.Context, wsURL string, program Pubkey, commitment Commitment) (*ProgramFeed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	f := &ProgramFeed{
		conn:    conn,
		program: program,
		done:    make(chan struct{}),
	}
	if err := f.subscribe(ctx, commitment); err != nil {
		conn.Close()
		return nil, err
	}

	go f.keepalive()
	return f, nil
}

func (f *ProgramFeed) subscribe(ctx context.Context, commitment Commitment) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "programSubscribe",
		Params: []interface{}{
			f.program.String(),
			map[string]string{
				"encoding":   "base64",
				"commitment": string(commitment),
			},
		},
	}

	if deadline, ok := ctx.Deadline(); ok {
		f.conn.SetWriteDeadline(deadline)
		f.conn.SetReadDeadline(deadline)
		defer f.conn.SetWriteDeadline(time.Time{})
		defer f.conn.SetReadDeadline(time.Time{})
	}

	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("programSubscribe %s: %w", f.program, err)
	}

	for {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("programSubscribe %s: %w", f.program, err)
		}
		var resp subscribeResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("programSubscribe %s: decode response: %w", f.program, err)
		}
		if resp.ID != subscribeRequestID {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("programSubscribe %s: %w", f.program, resp.Error)
		}
		f.subscriptionID = resp.Result
		return nil
	}
}

func (f *ProgramFeed) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			if err := f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// SubscriptionID is the id the node assigned to this subscription.
func (f *ProgramFeed) SubscriptionID() uint64 {
	return f.subscriptionID
}

// Recv blocks until the next account notification arrives. Cancelling ctx
// unblocks the read and leaves the feed unusable.
func (f *ProgramFeed) Recv(ctx context.Context) (AccountUpdate, error) {
	stop := context.AfterFunc(ctx, func() {
		f.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return AccountUpdate{}, ctx.Err()
			}
			select {
			case <-f.done:
				return AccountUpdate{}, ErrFeedClosed
			default:
			}
			return AccountUpdate{}, fmt.Errorf("read notification: %w", err)
		}

		var n notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return AccountUpdate{}, fmt.Errorf("decode notification: %w", err)
		}
		if n.Method != "programNotification" || n.Params.Subscription != f.subscriptionID {
			continue
		}

		key, err := ParsePubkey(n.Params.Result.Value.Pubkey)
		if err != nil {
			return AccountUpdate{}, fmt.Errorf("decode notification: %w", err)
		}
		data, err := n.Params.Result.Value.Account.decodeData()
		if err != nil {
			return AccountUpdate{}, fmt.Errorf("decode notification for %s: %w", key, err)
		}
		return AccountUpdate{
			Key:  key,
			Data: data,
			Slot: n.Params.Result.Context.Slot,
		}, nil
	}
}

// Close stops the keepalive and closes the connection.
func (f *ProgramFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = f.conn.Close()
	})
	return err
}
