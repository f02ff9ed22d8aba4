package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

const (
	spotStreamURL    = "wss://stream.binance.com:9443/stream"
	futuresStreamURL = "wss://fstream.binance.com/stream"

	streamMaxRetries = 10
	streamBaseDelay  = 1 * time.Second
	streamMaxDelay   = 60 * time.Second
)

type streamTick struct {
	price  decimal.Decimal
	volume decimal.Decimal
	at     time.Time
}

// Stream keeps a miniTicker websocket subscription alive for one venue and
// caches the latest tick per symbol. Reconnects with exponential backoff.
type Stream struct {
	url     string
	venue   domain.Venue
	symbols []domain.Symbol

	mu     sync.RWMutex
	latest map[domain.Symbol]streamTick
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStream creates a stream worker for one venue. An empty url selects the
// production endpoint for that venue.
func NewStream(venue domain.Venue, symbols []domain.Symbol, url string) *Stream {
	if url == "" {
		url = spotStreamURL
		if venue == domain.VenueFutures {
			url = futuresStreamURL
		}
	}
	return &Stream{
		url:     url,
		venue:   venue,
		symbols: symbols,
		latest:  make(map[domain.Symbol]streamTick),
	}
}

// Connect starts the connection loop with automatic reconnection.
func (s *Stream) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.connectionLoop(ctx)

	return nil
}

// Close stops the worker and waits for the loop to exit.
func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}

// Tick returns the latest cached tick for a symbol.
func (s *Stream) Tick(symbol domain.Symbol) (price, volume decimal.Decimal, at time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.latest[symbol]
	if !ok {
		return decimal.Zero, decimal.Zero, time.Time{}, false
	}
	return t.price, t.volume, t.at, true
}

func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stream panic recovered",
				slog.String("venue", string(s.venue)), slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("stream stopped", slog.String("venue", string(s.venue)))
			return
		default:
		}

		err := s.connect(ctx)
		if err != nil {
			slog.Warn("stream connection failed",
				slog.String("venue", string(s.venue)),
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := backoffDelay(retryCount)
			retryCount++
			if retryCount > streamMaxRetries {
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		s.readLoop(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.url+"?streams="+s.streamNames(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	slog.Info("stream connected",
		slog.String("venue", string(s.venue)), slog.Int("symbols", len(s.symbols)))
	return nil
}

// streamNames builds the combined-stream path, one miniTicker per symbol.
func (s *Stream) streamNames() string {
	names := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		names[i] = strings.ToLower(string(sym)) + "@miniTicker"
	}
	return strings.Join(names, "/")
}

func (s *Stream) readLoop(ctx context.Context) {
	defer s.closeConnection()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Close may nil the connection from another goroutine; read the
		// pointer under the lock and bail out once it is gone.
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("stream read failed",
				slog.String("venue", string(s.venue)), slog.Any("error", err))
			return
		}
		s.handleMessage(msg)
	}
}

// handleMessage parses a combined-stream miniTicker frame.
func (s *Stream) handleMessage(msg []byte) {
	var frame struct {
		Stream string `json:"stream"`
		Data   struct {
			Symbol string `json:"s"`
			Close  string `json:"c"`
			Volume string `json:"v"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Data.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(frame.Data.Close)
	if err != nil || !price.IsPositive() {
		return
	}
	volume, err := decimal.NewFromString(frame.Data.Volume)
	if err != nil {
		volume = decimal.Zero
	}

	s.mu.Lock()
	s.latest[domain.Symbol(frame.Data.Symbol)] = streamTick{price: price, volume: volume, at: time.Now()}
	s.mu.Unlock()
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func backoffDelay(retryCount int) time.Duration {
	delay := streamBaseDelay << uint(retryCount)
	if delay > streamMaxDelay || delay <= 0 {
		delay = streamMaxDelay
	}
	return delay
}
