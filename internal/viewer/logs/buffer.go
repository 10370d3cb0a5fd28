// Package logs captures go-log output for the viewer: a bounded history of
// parsed entries plus a live tail.
package logs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/util"
)

const DefaultSize = 800

// Entry is one log line split into the fields go-log's plaintext encoder
// writes: time, level, subsystem, caller and message.
type Entry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	System string    `json:"system,omitempty"`
	Msg    string    `json:"msg"`
}

// Buffer is an io.Writer that keeps the last entries and tails new ones.
type Buffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[Entry]
	subs    map[chan Entry]struct{}
	partial bytes.Buffer
}

func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{
		entries: util.NewRingBuffer[Entry](size),
		subs:    make(map[chan Entry]struct{}),
	}
}

// Capture copies every go-log line into b until ctx ends.
func (b *Buffer) Capture(ctx context.Context) {
	pipe := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	go func() {
		<-ctx.Done()
		_ = pipe.Close()
	}()
	_, _ = io.Copy(b, pipe)
}

// Write splits p into lines; a trailing partial line waits for the rest.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		i := bytes.IndexByte(b.partial.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(b.partial.Next(i + 1)[:i]), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e := parseLine(line)
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
	return len(p), nil
}

// zap's ISO8601 encoder, then RFC 3339 for UTC stamps.
var tsLayouts = []string{"2006-01-02T15:04:05.000Z0700", time.RFC3339Nano}

// parseLine reads "ts\tLEVEL\tsystem\tcaller\tmessage". Anything else is
// kept whole as the message.
func parseLine(line string) Entry {
	f := strings.SplitN(line, "\t", 5)
	if len(f) == 5 {
		for _, layout := range tsLayouts {
			if ts, err := time.Parse(layout, f[0]); err == nil {
				return Entry{TS: ts, Level: strings.ToLower(f[1]), System: f[2], Msg: f[4]}
			}
		}
	}
	return Entry{TS: time.Now(), Msg: line}
}

// Snapshot returns the held entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	return b.entries.Snapshot()
}

// Subscribe tails new entries. Slow subscribers miss lines.
func (b *Buffer) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Filter matches entries by level floor and subsystem. The zero Filter
// matches everything.
type Filter struct {
	Level  string
	System string
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3, "dpanic": 4, "panic": 5, "fatal": 6}

func (f Filter) Match(e Entry) bool {
	if f.System != "" && e.System != f.System {
		return false
	}
	if f.Level == "" || e.Level == "" {
		return true
	}
	want, ok := levelRank[strings.ToLower(f.Level)]
	if !ok {
		return true
	}
	return levelRank[e.Level] >= want
}
