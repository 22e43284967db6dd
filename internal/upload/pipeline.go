// pipeline.go - id allocation, encryption and the single write.

// Package upload turns a payload into a stored object and a link:
// id generation, optional encryption, metadata, then a single write.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyxzhar/quickdrop/internal/codec"
	"github.com/Cyxzhar/quickdrop/internal/shortid"
	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// DefaultTTL is used when an upload asks for no specific lifetime.
const DefaultTTL = 24 * time.Hour

// maxIDAttempts bounds regeneration for reserved or taken ids.
const maxIDAttempts = 3

// ReservedIDs are valid ids that the gateway routes to something other than
// an object.
var ReservedIDs = []string{"health", "readyz"}

func reserved(id string) bool {
	for _, r := range ReservedIDs {
		if id == r {
			return true
		}
	}
	return false
}

// ExpiryHours are the lifetimes offered to uploaders. 8760h is a year, the
// longest an object is kept.
var ExpiryHours = []int{1, 6, 24, 168, 8760}

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrInvalidExpiry  = errors.New("unsupported expiry")
	ErrIDSpaceCrowded = errors.New("could not find a free id")
)

// Writer stores one object. storage.Store and sigv4.Client both satisfy it.
type Writer interface {
	Put(ctx context.Context, in storage.PutInput) error
}

// Checker reports whether a key is already taken.
type Checker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// ExpiryHoursAllowed reports whether h is one of ExpiryHours.
func ExpiryHoursAllowed(h int) bool {
	for _, v := range ExpiryHours {
		if v == h {
			return true
		}
	}
	return false
}

type Input struct {
	Data        []byte
	Filename    string
	ContentType string
	// Password, when set, encrypts the payload before it leaves the process.
	Password string
	TTL      time.Duration
	Title    string
	Text     string
}

type Result struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Link       string    `json:"link"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	Size       int64     `json:"size"`
	Encrypted  bool      `json:"encrypted"`
	UploadedAt time.Time `json:"uploadedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type Pipeline struct {
	writer  Writer
	checker Checker
	baseURL string
	events  chan<- Event

	// Replaced in tests.
	newID func() (string, error)
	now   func() time.Time
}

type Option func(*Pipeline)

// WithCollisionCheck regenerates ids that already exist in c. Off by default:
// it costs one lookup per upload and collisions are rare at low volume.
func WithCollisionCheck(c Checker) Option { return func(p *Pipeline) { p.checker = c } }

// WithEvents publishes progress to ch. Sends never block; events are dropped
// when ch is full.
func WithEvents(ch chan<- Event) Option { return func(p *Pipeline) { p.events = ch } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithIDSource(fn func() (string, error)) Option { return func(p *Pipeline) { p.newID = fn } }

// New returns a pipeline writing through w and linking under baseURL.
func New(w Writer, baseURL string, opts ...Option) *Pipeline {
	p := &Pipeline{
		writer:  w,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   shortid.Generate,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Upload stores in and returns where it can be fetched.
func (p *Pipeline) Upload(ctx context.Context, in Input) (Result, error) {
	if len(in.Data) == 0 {
		return Result{}, ErrEmptyPayload
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return Result{}, ErrInvalidExpiry
	}
	encrypted := in.Password != ""

	id, key, err := p.pickID(ctx, encrypted)
	if err != nil {
		p.emit(Event{Kind: EventFailed, Err: err})
		return Result{}, err
	}
	p.emit(Event{Kind: EventStarted, ID: id, Total: int64(len(in.Data))})

	data, contentType := in.Data, in.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	if encrypted {
		data, err = codec.Encrypt(in.Data, in.Password)
		if err != nil {
			err = fmt.Errorf("encrypt: %w", err)
			p.emit(Event{Kind: EventFailed, ID: id, Err: err})
			return Result{}, err
		}
		contentType = storage.EncryptedContentType
		p.emit(Event{Kind: EventEncrypted, ID: id, Total: int64(len(data))})
	}

	now := p.now()
	expires := now.Add(ttl)
	filename := in.Filename
	if filename == "" {
		filename = storage.PlainKey(id)
	}

	meta := storage.Meta{}
	meta.SetText(storage.MetaFilename, filename)
	meta.SetTime(storage.MetaUploadedAt, now)
	meta.SetTime(storage.MetaExpiresAt, expires)
	meta.SetText(storage.MetaTitle, in.Title)
	meta.SetText(storage.MetaText, in.Text)

	if err := p.writer.Put(ctx, storage.PutInput{Key: key, Data: data, ContentType: contentType, Meta: meta}); err != nil {
		p.emit(Event{Kind: EventFailed, ID: id, Err: err})
		return Result{}, err
	}

	res := Result{
		ID:         id,
		Key:        key,
		Link:       p.Link(id, encrypted),
		Filename:   filename,
		Title:      in.Title,
		Size:       int64(len(data)),
		Encrypted:  encrypted,
		UploadedAt: now,
		ExpiresAt:  expires,
	}
	p.emit(Event{Kind: EventUploaded, ID: id, Total: res.Size, Result: &res})
	return res, nil
}

// Link is the share URL for id. Protected links carry the p flag so the
// gateway goes straight to the encrypted key.
func (p *Pipeline) Link(id string, encrypted bool) string {
	if encrypted {
		return p.baseURL + "/" + id + "?p"
	}
	return p.baseURL + "/" + id
}

func (p *Pipeline) pickID(ctx context.Context, encrypted bool) (string, string, error) {
	keyFor := storage.PlainKey
	if encrypted {
		keyFor = storage.EncryptedKey
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := p.newID()
		if err != nil {
			return "", "", err
		}
		if reserved(id) {
			continue
		}
		if p.checker == nil {
			return id, keyFor(id), nil
		}
		// Either suffix makes the id ambiguous for unflagged links.
		taken, err := p.taken(ctx, id)
		if err != nil {
			return "", "", fmt.Errorf("collision check: %w", err)
		}
		if !taken {
			return id, keyFor(id), nil
		}
	}
	return "", "", ErrIDSpaceCrowded
}

func (p *Pipeline) taken(ctx context.Context, id string) (bool, error) {
	for _, key := range []string{storage.PlainKey(id), storage.EncryptedKey(id)} {
		ok, err := p.checker.Exists(ctx, key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (p *Pipeline) emit(e Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- e:
	default:
	}
}
