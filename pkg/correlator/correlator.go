package correlator

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Nonce identifies one outgoing request awaiting a response.
type Nonce string

func NewNonce() Nonce {
	return Nonce(uuid.NewString())
}

// Guard reports whether a raw response has the shape the caller expects.
type Guard func(raw json.RawMessage) bool

type Request struct {
	Nonce      Nonce
	Guard      Guard
	OnResponse func(raw json.RawMessage)
	// OnOnline runs after the handler is registered, only when online. It
	// usually sends the request.
	OnOnline func()
	// OnOffline runs instead of registering when the channel is closed.
	OnOffline func()
}

// Correlator matches responses to requests by nonce. Each nonce is delivered
// at most once. Entries live until answered, abandoned or reset.
type Correlator struct {
	mu       sync.Mutex
	handlers map[Nonce]Request
	isOnline func() bool
	logger   *slog.Logger
}

func New(logger *slog.Logger, isOnline func() bool) *Correlator {
	return &Correlator{
		handlers: make(map[Nonce]Request),
		isOnline: isOnline,
		logger:   logger.With(slog.String("component", "correlator")),
	}
}

// AwaitResponse registers req unless the channel is offline, in which case
// OnOffline runs and nothing is registered.
func (c *Correlator) AwaitResponse(req Request) {
	if c.isOnline == nil || !c.isOnline() {
		if req.OnOffline != nil {
			req.OnOffline()
		}
		return
	}
	c.mu.Lock()
	c.handlers[req.Nonce] = req
	c.mu.Unlock()

	if req.OnOnline != nil {
		req.OnOnline()
	}
}

// Deliver hands a response to the handler registered for nonce. It returns
// true only when the handler ran. A response failing the guard is dropped and
// the handler stays registered.
func (c *Correlator) Deliver(nonce Nonce, raw json.RawMessage) bool {
	c.mu.Lock()
	req, ok := c.handlers[nonce]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("Response for unknown nonce", slog.String("nonce", string(nonce)))
		return false
	}
	if req.Guard != nil && !req.Guard(raw) {
		c.mu.Unlock()
		c.logger.Warn("Received invalid response", slog.String("nonce", string(nonce)), slog.String("response", string(raw)))
		return false
	}
	delete(c.handlers, nonce)
	c.mu.Unlock()

	if req.OnResponse != nil {
		req.OnResponse(raw)
	}
	return true
}

// Abandon drops a pending request without invoking it.
func (c *Correlator) Abandon(nonce Nonce) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, nonce)
}

// Reset abandons every pending request.
func (c *Correlator) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.handlers)
	c.handlers = make(map[Nonce]Request)
	return n
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Typed builds a guard and handler pair decoding responses into T. check may
// be nil to accept any value that decodes.
func Typed[T any](check func(T) bool, onResponse func(T)) (Guard, func(json.RawMessage)) {
	guard := func(raw json.RawMessage) bool {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return false
		}
		return check == nil || check(v)
	}
	handler := func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return
		}
		onResponse(v)
	}
	return guard, handler
}
