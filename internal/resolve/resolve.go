package resolve

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"tgstream/internal/stream"
	"tgstream/internal/tgc"
)

/* ===== stream ids ===== */

// EncodeID packs a message's coordinates and its content fingerprint into
// the opaque id that appears in stream URLs.
func EncodeID(chatID int64, msgID int, hash string) string {
	raw := fmt.Sprintf("%d:%d:%s", chatID, msgID, hash)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeID is the inverse of EncodeID. Malformed input yields
// stream.ErrInvalidRequest.
func DecodeID(id string) (chatID int64, msgID int, hash string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: bad id encoding", stream.ErrInvalidRequest)
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("%w: bad id shape", stream.ErrInvalidRequest)
	}
	chatID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: bad chat id", stream.ErrInvalidRequest)
	}
	msgID, err = strconv.Atoi(parts[1])
	if err != nil || msgID <= 0 {
		return 0, 0, "", fmt.Errorf("%w: bad message id", stream.ErrInvalidRequest)
	}
	if len(parts[2]) != hashLen {
		return 0, 0, "", fmt.Errorf("%w: bad hash", stream.ErrInvalidRequest)
	}
	return chatID, msgID, parts[2], nil
}

// hashLen is how many hex characters of the fingerprint go into ids.
const hashLen = 6

// fileHash fingerprints a document by its immutable fields, so a reused
// URL stops working when the message is edited to point at another file.
func fileHash(doc *tg.Document) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%d:%s", doc.ID, doc.Size, doc.MimeType)))
	return hex.EncodeToString(sum[:])[:hashLen]
}

/* ===== resolver ===== */

type cachedLocator struct {
	loc      *tgc.FileLocator
	fetched  time.Time
	lastUsed time.Time
}

// Resolver turns message coordinates into file locators, caching both the
// locators themselves and the channel access hashes they depend on.
type Resolver struct {
	pool *tgc.Pool
	ttl  time.Duration

	mu       sync.Mutex
	locators map[string]*cachedLocator
	channels map[int64]int64
}

func NewResolver(pool *tgc.Pool, ttl time.Duration) *Resolver {
	return &Resolver{
		pool:     pool,
		ttl:      ttl,
		locators: make(map[string]*cachedLocator),
		channels: make(map[int64]int64),
	}
}

// ResolveRequest decodes a stream id, resolves its locator and verifies
// that the file behind the message still matches the id's fingerprint.
func (r *Resolver) ResolveRequest(ctx context.Context, id string) (*tgc.FileLocator, error) {
	chatID, msgID, hash, err := DecodeID(id)
	if err != nil {
		return nil, err
	}
	loc, err := r.Locator(ctx, chatID, msgID)
	if err != nil {
		return nil, err
	}
	if loc.UniqueID != hash {
		return nil, fmt.Errorf("%w: msg %d/%d", stream.ErrHashMismatch, chatID, msgID)
	}
	return loc, nil
}

// Locator returns the cached locator for a message, re-reading it from
// Telegram when the cache entry is missing or older than the TTL.
func (r *Resolver) Locator(ctx context.Context, chatID int64, msgID int) (*tgc.FileLocator, error) {
	key := fmt.Sprintf("%d:%d", chatID, msgID)
	now := time.Now()

	r.mu.Lock()
	if c, ok := r.locators[key]; ok && now.Sub(c.fetched) < r.ttl {
		c.lastUsed = now
		loc := c.loc
		r.mu.Unlock()
		return loc, nil
	}
	r.mu.Unlock()

	loc, err := r.fetchLocator(ctx, chatID, msgID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.locators[key] = &cachedLocator{loc: loc, fetched: now, lastUsed: now}
	r.mu.Unlock()
	return loc, nil
}

// Invalidate drops the cached locator so the next Locator call hits
// Telegram again. Used when a file reference expires mid-stream.
func (r *Resolver) Invalidate(chatID int64, msgID int) {
	r.mu.Lock()
	delete(r.locators, fmt.Sprintf("%d:%d", chatID, msgID))
	r.mu.Unlock()
}

// EvictIdle drops locators that have not been used for the given idle
// span. Returns how many were dropped.
func (r *Resolver) EvictIdle(idle time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, c := range r.locators {
		if now.Sub(c.lastUsed) >= idle {
			delete(r.locators, key)
			n++
		}
	}
	return n
}

func (r *Resolver) fetchLocator(ctx context.Context, chatID int64, msgID int) (*tgc.FileLocator, error) {
	w := r.pool.Select(0)
	if w == nil {
		return nil, fmt.Errorf("no workers available")
	}

	channelID := bareChannelID(chatID)
	accessHash, err := r.channelAccessHash(ctx, w, channelID)
	if err != nil {
		return nil, &stream.UpstreamError{Err: fmt.Errorf("resolve channel %d: %w", chatID, err)}
	}

	msgs, err := w.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}},
	})
	if err != nil {
		return nil, &stream.UpstreamError{Err: fmt.Errorf("get message %d/%d: %w", chatID, msgID, err)}
	}

	doc, err := documentFrom(msgs)
	if err != nil {
		return nil, err
	}

	loc := &tgc.FileLocator{
		ChatID:        chatID,
		MsgID:         msgID,
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		Size:          doc.Size,
		MimeType:      doc.MimeType,
		DCID:          doc.DCID,
		UniqueID:      fileHash(doc),
	}
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			loc.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			loc.Duration = a.Duration
			loc.Width = a.W
			loc.Height = a.H
		case *tg.DocumentAttributeAudio:
			if loc.Duration == 0 {
				loc.Duration = float64(a.Duration)
			}
		}
	}
	log.Printf("[resolve] msg %d/%d -> doc %d (%d bytes, %s, dc %d)",
		chatID, msgID, doc.ID, doc.Size, doc.MimeType, doc.DCID)
	return loc, nil
}

func (r *Resolver) channelAccessHash(ctx context.Context, w *tgc.Worker, channelID int64) (int64, error) {
	r.mu.Lock()
	if h, ok := r.channels[channelID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	res, err := w.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: channelID},
	})
	if err != nil {
		return 0, err
	}
	for _, chat := range res.GetChats() {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != channelID {
			continue
		}
		r.mu.Lock()
		r.channels[channelID] = ch.AccessHash
		r.mu.Unlock()
		return ch.AccessHash, nil
	}
	return 0, fmt.Errorf("channel %d not found", channelID)
}

func documentFrom(res tg.MessagesMessagesClass) (*tg.Document, error) {
	cm, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(cm.Messages) == 0 {
		return nil, fmt.Errorf("%w: message not found", stream.ErrInvalidRequest)
	}
	msg, ok := cm.Messages[0].(*tg.Message)
	if !ok {
		return nil, fmt.Errorf("%w: message not found", stream.ErrInvalidRequest)
	}
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, fmt.Errorf("%w: message carries no document", stream.ErrInvalidRequest)
	}
	doc, ok := media.Document.AsNotEmpty()
	if !ok {
		return nil, fmt.Errorf("%w: document is empty", stream.ErrInvalidRequest)
	}
	return doc, nil
}

// bareChannelID strips the -100 prefix bot-API style chat ids carry.
func bareChannelID(chatID int64) int64 {
	if chatID < 0 {
		s := strconv.FormatInt(-chatID, 10)
		if strings.HasPrefix(s, "100") && len(s) > 3 {
			v, err := strconv.ParseInt(s[3:], 10, 64)
			if err == nil {
				return v
			}
		}
		return -chatID
	}
	return chatID
}
