package paradex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const market = "ETH-USD-PERP"

type fakeAPI struct {
	mu       sync.Mutex
	status   int
	orders   []orderRequest
	cancels  []string
	authSeen []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orderbook/{market}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "20", r.URL.Query().Get("depth"))
		_, _ = io.WriteString(w, `{"market":"`+r.PathValue("market")+`","bids":[["100","2"],["99.5","1"]],"asks":[["101","2"]],"last_updated_at":1700000000000}`)
	})
	mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[{"market":"ETH-USD-PERP","side":"SHORT","size":"1.5","status":"OPEN"},{"market":"BTC-USD-PERP","side":"LONG","size":"0.1","status":"CLOSED"}]}`)
	})
	mux.HandleFunc("GET /account", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"free_collateral":"1234.5"}`)
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"error":"UNAUTHORIZED","message":"jwt expired"}`)
			return
		}
		var req orderRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &req))
		f.orders = append(f.orders, req)
		_, _ = io.WriteString(w, `{"id":"O-1","status":"NEW"}`)
	})
	mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancels = append(f.cancels, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, market, r.URL.Query().Get("market"))
		_, _ = io.WriteString(w, `{"results":[
			{"id":"O-1","client_id":"mm-1","market":"ETH-USD-PERP","side":"BUY","size":"1","remaining_size":"0.4","price":"100.4","status":"OPEN","created_at":1700000000000},
			{"id":"O-2","market":"ETH-USD-PERP","side":"SELL","size":"1","remaining_size":"0","price":"100.6","status":"CLOSED","created_at":1700000000000}
		]}`)
	})
	mux.HandleFunc("GET /markets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[{"symbol":"ETH-USD-PERP","price_tick_size":"0.01","order_size_increment":"0.001"}]}`)
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(t.Context(), Config{BaseURL: srv.URL, Wallet: "w1", JWT: "jwt-1"})
	require.NoError(t, err)
	return c
}

func TestFetchOrderBook(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	snap, err := c.FetchOrderBook(t.Context(), market, 20)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	require.True(t, snap.Bids[1].Price.Equal(decimal.RequireFromString("99.5")))
	require.Equal(t, int64(1700000000000), snap.At.UnixMilli())
}

func TestFetchAccount(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	positions, err := c.FetchPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.True(t, venue.PositionOf(positions, market).Equal(decimal.RequireFromString("-1.5")))

	bal, err := c.FetchBalance(t.Context())
	require.NoError(t, err)
	require.True(t, bal.FreeCollateral.Equal(decimal.RequireFromString("1234.5")))

	info, err := c.FetchMarket(t.Context(), market)
	require.NoError(t, err)
	require.True(t, info.SizeStep.Equal(decimal.RequireFromString("0.001")))

	_, err = c.FetchMarket(t.Context(), "SOL-USD-PERP")
	require.Error(t, err)
}

func TestOrders(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	ctx := t.Context()

	id, err := c.SubmitOrder(ctx, venue.OrderRequest{
		Market:   market,
		Side:     enum.OrderSideBuy,
		Price:    decimal.RequireFromString("100.4"),
		Size:     decimal.RequireFromString("0.996"),
		PostOnly: true,
		ClientID: "mm-1",
	})
	require.NoError(t, err)
	require.Equal(t, "O-1", id)
	require.Equal(t, "POST_ONLY", api.orders[0].Instruction)
	require.Equal(t, "BUY", api.orders[0].Side)
	require.Equal(t, "0.996", api.orders[0].Size)
	require.Equal(t, "Bearer jwt-1", api.authSeen[0])

	require.NoError(t, c.CancelOrder(ctx, "O-1"))
	require.Equal(t, []string{"O-1"}, api.cancels)

	live, err := c.FetchOpenOrders(ctx, market)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "O-1", live[0].ID)
	require.True(t, live[0].FilledSize.Equal(decimal.RequireFromString("0.6")))
	require.True(t, live[0].Remaining().Equal(decimal.RequireFromString("0.4")))
}

func TestUnauthorizedIsVenueAuth(t *testing.T) {
	api := &fakeAPI{status: http.StatusUnauthorized}
	c := newTestClient(t, api)

	_, err := c.SubmitOrder(t.Context(), venue.OrderRequest{
		Market: market, Side: enum.OrderSideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, exception.ErrVenueAuth)
	require.Contains(t, err.Error(), "jwt expired")
}

func TestSignerAndTokenSource(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(t.Context(), Config{
		BaseURL:     srv.URL,
		Wallet:      "w1",
		TokenSource: func(context.Context) (string, error) { return "fresh", nil },
		Signer: func(_ context.Context, req venue.OrderRequest, ts int64) (string, error) {
			return "sig-" + req.ClientID, nil
		},
	})
	require.NoError(t, err)

	_, err = c.SubmitOrder(t.Context(), venue.OrderRequest{
		Market: market, Side: enum.OrderSideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1), ClientID: "c9",
	})
	require.NoError(t, err)
	require.Equal(t, "sig-c9", api.orders[0].Signature)
	require.NotZero(t, api.orders[0].SignatureTimestamp)
	require.Equal(t, "Bearer fresh", api.authSeen[0])
}

func TestMissingJWT(t *testing.T) {
	_, err := New(t.Context(), Config{Wallet: "w1"})
	require.ErrorIs(t, err, exception.ErrVenueAuth)
	require.ErrorIs(t, err, exception.ErrMissingCredential)

	_, _, err = BaseURLs("devnet")
	require.Error(t, err)
}

func TestFillMessage(t *testing.T) {
	msg, ok := fillMessage(fillEvent{ID: "T1", OrderID: "O-1", Market: market, Side: "BUY", Size: "0.5", Price: "100", CreatedAt: 1700000000000})
	require.True(t, ok)
	require.Equal(t, "T1", msg.TradeID)
	require.Equal(t, enum.OrderSideBuy, msg.Side)
	require.True(t, msg.Size.Equal(decimal.RequireFromString("0.5")))

	_, ok = fillMessage(fillEvent{ID: "T2", OrderID: "O-1", Side: "BUY", Size: "0"})
	require.False(t, ok)

	_, ok = fillMessage(fillEvent{OrderID: "O-1", Side: "BUY", Size: "0.5", Price: "100"})
	require.False(t, ok, "fills without a trade id cannot be deduplicated")
}
