package paradex

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const (
	_paradexWsMethodAuthID      = 0
	_paradexWsMethodSubscribeID = 1
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      *int64    `json:"id"`
	Result  any       `json:"result"`
	Error   *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcSubscription struct {
	Method string `json:"method"`
	Params struct {
		Channel string    `json:"channel"`
		Data    fillEvent `json:"data"`
	} `json:"params"`
}

type fillEvent struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	ClientID      string `json:"client_id"`
	Market        string `json:"market"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Price         string `json:"price"`
	RemainingSize string `json:"remaining_size"`
	CreatedAt     int64  `json:"created_at"`
}

func fillChannel(market string) string {
	return "fills." + market
}

type stream struct {
	wss  *ws.WebSocket
	once sync.Once
}

func (s *stream) close() {
	s.once.Do(func() { s.wss.Close() })
}

// SubscribeFills opens an authenticated socket subscribed to the market's
// fill channel. The channel closes when ctx ends or the socket dies.
func (c *Client) SubscribeFills(ctx context.Context, market string, token string) (<-chan venue.FillMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, exception.ErrConnectionClose
	}
	c.mu.Unlock()

	s := &stream{wss: ws.New(ctx, c.cfg.WsURL)}
	if err := s.wss.Start(ctx, authSidecar(token)); err != nil {
		s.close()
		return nil, errors.Wrap(err, "start wss").With("market", market)
	}

	// register the consumer before subscribing so no fill slips through
	msgs, unsubscribe := s.wss.Subscribe()

	appendIntoRegister := true
	if err := s.wss.SendAndWait(ctx, subscribeSidecar(fillChannel(market)), appendIntoRegister); err != nil {
		unsubscribe()
		s.close()
		return nil, errors.Wrap(err, "send and wait").With("channel", fillChannel(market))
	}

	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()

	out := make(chan venue.FillMessage, 64)
	go func() {
		defer func() {
			unsubscribe()
			s.close()
			c.mu.Lock()
			delete(c.streams, s)
			c.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				sub, ok := ws.ReadMessage[rpcSubscription](m)
				if !ok || sub.Method != "subscription" || sub.Params.Channel != fillChannel(market) {
					continue
				}
				msg, ok := fillMessage(sub.Params.Data)
				if !ok {
					logs.Warnf("drop malformed fill, venue: %s, market: %s, order: %s, trade: %s", Name, market, sub.Params.Data.OrderID, sub.Params.Data.ID)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func authSidecar(token string) ws.Sidecar {
	return ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := rpcRequest{
				JSONRPC: "2.0",
				Method:  "auth",
				Params:  map[string]string{"bearer": token},
				ID:      _paradexWsMethodAuthID,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write auth payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[rpcResponse](m)
			if !ok || resp.ID == nil || *resp.ID != _paradexWsMethodAuthID {
				return false, nil
			}
			if resp.Error != nil {
				return false, errors.Wrap(exception.ErrVenueAuth, resp.Error.Message)
			}
			return true, nil
		},
	}
}

func subscribeSidecar(channel string) ws.Sidecar {
	return ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := rpcRequest{
				JSONRPC: "2.0",
				Method:  "subscribe",
				Params:  map[string]string{"channel": channel},
				ID:      _paradexWsMethodSubscribeID,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[rpcResponse](m)
			if !ok || resp.ID == nil || *resp.ID != _paradexWsMethodSubscribeID {
				return false, nil
			}
			if resp.Error != nil {
				return false, errors.Errorf("subscribe %s, err: %s", channel, resp.Error.Message)
			}
			return true, nil
		},
	}
}

func fillMessage(e fillEvent) (venue.FillMessage, bool) {
	msg := venue.FillMessage{
		TradeID: e.ID,
		OrderID: e.OrderID,
		Market:  e.Market,
		Side:    enum.ParseOrderSide(e.Side),
		Size:    parse(e.Size),
		Price:   parse(e.Price),
	}
	if e.CreatedAt > 0 {
		msg.At = time.UnixMilli(e.CreatedAt)
	}
	if msg.TradeID == "" || msg.OrderID == "" || !msg.Side.IsAvailable() || !msg.Size.IsPositive() {
		return venue.FillMessage{}, false
	}
	return msg, true
}
