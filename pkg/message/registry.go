package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
)

var (
	ErrUnknownTag    = errors.New("unknown event tag")
	ErrMalformed     = errors.New("malformed payload")
	ErrShapeMismatch = errors.New("payload shape not accepted for tag")
)

// Shape is the set of envelope forms a registry accepts for a tag.
type Shape uint8

const (
	ShapeDirect Shape = 1 << iota
	ShapeForwarded
)

func (s Shape) allows(other Shape) bool {
	return s&other == other
}

type entry struct {
	shape     Shape
	validator Validator
}

// Registry maps event tags to validators and the envelope forms in which
// they may arrive.
type Registry struct {
	mu      sync.RWMutex
	entries map[Tag]entry
}

// Envelope is a validated inbound payload. For forwarded messages Tag is the
// tag of the original message and SenderID the relay-assigned user id.
type Envelope struct {
	Tag       Tag
	Forwarded bool
	SenderID  string
	Raw       []byte
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Tag]entry)}
}

// NewClientRegistry accepts what a relay sends to a participant.
func NewClientRegistry() *Registry {
	r := NewRegistry()
	for _, tag := range []Tag{TagSelfConnected, TagUserDisconnected, TagInitialLandscape, TagMenuDetachedForward, TagResponse} {
		r.Register(tag, ShapeDirect, catalogue[tag])
	}
	r.Register(TagUserConnected, ShapeDirect|ShapeForwarded, catalogue[TagUserConnected])
	for _, tag := range relayedTags {
		r.Register(tag, ShapeForwarded, catalogue[tag])
	}
	return r
}

// NewRelayRegistry accepts what a participant sends to the relay.
func NewRelayRegistry() *Registry {
	r := NewRegistry()
	for _, tag := range relayedTags {
		r.Register(tag, ShapeDirect, catalogue[tag])
	}
	r.Register(TagMenuDetached, ShapeDirect, catalogue[TagMenuDetached])
	return r
}

// relayedTags are sent by one participant and forwarded to the others.
var relayedTags = []Tag{
	TagUserControllerConnect,
	TagUserControllerDisconnect,
	TagUserPositions,
	TagAppOpened,
	TagAppClosed,
	TagComponentUpdate,
	TagHighlightingUpdate,
	TagSpectatingUpdate,
	TagPingUpdate,
	TagMousePingUpdate,
	TagTimestampUpdate,
	TagObjectMoved,
	TagDetachedMenuClosed,
}

// RelayedTags returns the tags a relay forwards between participants.
func RelayedTags() []Tag {
	return append([]Tag(nil), relayedTags...)
}

func (r *Registry) Register(tag Tag, shape Shape, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[tag]; exists {
		panic("validator already registered: " + string(tag))
	}
	if v == nil {
		panic("nil validator for tag: " + string(tag))
	}
	r.entries[tag] = entry{shape: shape, validator: v}
}

func (r *Registry) lookup(tag Tag) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e, ok
}

// Tags lists the registered tags.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]Tag, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	return tags
}

// Validate checks raw against the catalogue and unwraps forwarded envelopes.
func (r *Registry) Validate(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	tag := Tag(root.Get("event").String())
	if tag == "" {
		return nil, fmt.Errorf("%w: missing event tag", ErrMalformed)
	}

	form := ShapeDirect
	body := root
	env := &Envelope{Tag: tag, Raw: raw}
	if tag == TagForwarded {
		if err := nonEmptyStr("userId")(root); err != nil {
			return nil, err
		}
		body = root.Get("originalMessage")
		if !body.IsObject() {
			return nil, malformed("originalMessage", "an object")
		}
		form = ShapeForwarded
		env.Forwarded = true
		env.SenderID = root.Get("userId").Str
		env.Tag = Tag(body.Get("event").String())
	}

	e, ok := r.lookup(env.Tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Tag)
	}
	if !e.shape.allows(form) {
		return nil, fmt.Errorf("%w: %q", ErrShapeMismatch, env.Tag)
	}
	if err := e.validator(body); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Tag, err)
	}
	return env, nil
}

// IsForwardedMessageOf reports whether raw is a forwarded envelope whose
// original message carries tag.
func IsForwardedMessageOf(tag Tag, raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	root := gjson.ParseBytes(raw)
	if Tag(root.Get("event").String()) != TagForwarded {
		return false
	}
	sender := root.Get("userId")
	if sender.Type != gjson.String || sender.Str == "" {
		return false
	}
	original := root.Get("originalMessage")
	if !original.IsObject() {
		return false
	}
	return Tag(original.Get("event").String()) == tag
}

// Decode unmarshals a direct payload.
func Decode[T any](raw []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// DecodeForwarded unmarshals a forwarded envelope after checking that it
// wraps a message of the given tag.
func DecodeForwarded[T any](tag Tag, raw []byte) (Forwarded[T], error) {
	if !IsForwardedMessageOf(tag, raw) {
		return Forwarded[T]{}, fmt.Errorf("%w: not a forwarded %q", ErrShapeMismatch, tag)
	}
	return Decode[Forwarded[T]](raw)
}

// Forward wraps an original payload on behalf of userID.
func Forward(userID string, original []byte) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("forward requires a sender id")
	}
	if !json.Valid(original) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	return json.Marshal(Forwarded[json.RawMessage]{
		Message:         Message{Event: TagForwarded},
		UserID:          userID,
		OriginalMessage: json.RawMessage(original),
	})
}
