package livefeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/minhos/mdic/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage is a client -> server subscribe/unsubscribe control frame,
// mirroring the teacher's websocket control protocol.
type controlMessage struct {
	Action string   `json:"action"` // "subscribe" | "unsubscribe"
	Roots  []string `json:"roots"`
}

// wireTick is the JSON frame published to websocket subscribers.
type wireTick struct {
	Root             string          `json:"root"`
	Symbol           string          `json:"symbol"`
	TimestampUs      int64           `json:"timestamp_us"`
	Price            decimal.Decimal `json:"price"`
	Size             uint32          `json:"size"`
	Bid              decimal.Decimal `json:"bid"`
	Ask              decimal.Decimal `json:"ask"`
	BidSize          uint32          `json:"bid_size"`
	AskSize          uint32          `json:"ask_size"`
	Side             string          `json:"side"`
	Sequence         uint16          `json:"sequence"`
	VWAP             decimal.Decimal `json:"vwap"`
	CumulativeVolume int64           `json:"cumulative_volume"`
	TradeCount       int64           `json:"trade_count"`
}

func toWireTick(root string, t model.Tick) wireTick {
	return wireTick{
		Root: root, Symbol: t.Symbol, TimestampUs: t.TimestampUs, Price: t.Price, Size: t.Size,
		Bid: t.Bid, Ask: t.Ask, BidSize: t.BidSize, AskSize: t.AskSize,
		Side: t.Side.String(), Sequence: t.Sequence, VWAP: t.VWAP,
		CumulativeVolume: t.CumulativeVolume, TradeCount: t.TradeCount,
	}
}

// wsClient is one connected websocket subscriber, fanning out ticks from
// zero or more TickStreams it has subscribed to.
type wsClient struct {
	conn *websocket.Conn
	svc  *Service

	mu        sync.Mutex
	streams   map[string]*TickStream // root -> active subscription
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Handler upgrades HTTP connections to the live-tick websocket feed
// (spec.md §4.8's subscribe contract, exposed over the wire), adapted from
// the teacher's session.Handler connection-pump shape.
func Handler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("livefeed: websocket upgrade: %v", err)
			return
		}

		c := &wsClient{
			conn:    conn,
			svc:     svc,
			streams: make(map[string]*TickStream),
			sendCh:  make(chan []byte, 256),
			done:    make(chan struct{}),
		}

		go c.writePump()
		go c.readPump()
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		for _, ts := range c.streams {
			ts.Close()
		}
		c.mu.Unlock()
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		switch ctrl.Action {
		case "subscribe":
			for _, root := range ctrl.Roots {
				c.subscribeRoot(root)
			}
		case "unsubscribe":
			for _, root := range ctrl.Roots {
				c.unsubscribeRoot(root)
			}
		}
	}
}

func (c *wsClient) subscribeRoot(root string) {
	c.mu.Lock()
	if _, exists := c.streams[root]; exists {
		c.mu.Unlock()
		return
	}
	ts := c.svc.Subscribe(root)
	c.streams[root] = ts
	c.mu.Unlock()

	go c.pumpStream(root, ts)
}

func (c *wsClient) unsubscribeRoot(root string) {
	c.mu.Lock()
	ts, ok := c.streams[root]
	delete(c.streams, root)
	c.mu.Unlock()
	if ok {
		ts.Close()
	}
}

// pumpStream forwards one TickStream's ticks and terminal event into the
// client's shared send channel. A LaggingSubscriber terminal event closes
// the whole connection rather than just the one subscription, matching the
// "disconnected" language of spec.md §4.5/§5.
func (c *wsClient) pumpStream(root string, ts *TickStream) {
	for {
		select {
		case <-c.done:
			return
		case tick, ok := <-ts.Ticks():
			if !ok {
				return
			}
			data, err := json.Marshal(toWireTick(root, tick))
			if err != nil {
				continue
			}
			select {
			case c.sendCh <- data:
			case <-c.done:
				return
			}
		case ev := <-ts.Terminal():
			log.Printf("livefeed: client disconnected for root %s: %s", root, ev.Reason)
			c.close()
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
