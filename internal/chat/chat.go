package chat

import (
	"sync"

	"beacon/internal/models"
)

// Chat is the in-memory view of one conversation: the sequence counters and a
// ring buffer with the most recent messages. Its mutex serializes appends.
type Chat struct {
	ID         string
	Records    []models.Message
	FirstSeq   int64
	LastSeq    int64
	LastIndex  int
	MaxRecords int

	// LastTimestamp keeps server timestamps monotonic within the conversation.
	LastTimestamp int64

	mux sync.RWMutex
}

func newChat(id string, maxRecords int) *Chat {
	return &Chat{
		ID:         id,
		MaxRecords: maxRecords,
		LastIndex:  -1,
	}
}

// push adds a message into the ring buffer. msg.Seq must be LastSeq+1.
// Caller holds the write lock.
func (c *Chat) push(msg models.Message) {
	c.LastSeq = msg.Seq
	if msg.Timestamp > c.LastTimestamp {
		c.LastTimestamp = msg.Timestamp
	}

	switch {
	case len(c.Records) < c.MaxRecords:
		if len(c.Records) == 0 {
			c.FirstSeq = msg.Seq
		}
		c.Records = append(c.Records, msg)
		c.LastIndex++
	default:
		c.FirstSeq++
		i := (c.LastIndex + 1) % c.MaxRecords
		c.Records[i] = msg
		c.LastIndex = i
	}
}

func (c *Chat) covers(seq int64) bool {
	return len(c.Records) > 0 && seq >= c.FirstSeq && seq <= c.LastSeq
}

// at returns the ring index of seq. Caller checks covers first.
func (c *Chat) at(seq int64) int {
	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}
	return (head + int(seq-c.FirstSeq)) % len(c.Records)
}

// before walks the ring newest-first and collects up to limit messages with
// seq < beforeSeq and timestamp < beforeTS (zero bounds are ignored).
// complete is false when older messages may exist only in storage.
func (c *Chat) before(beforeSeq, beforeTS int64, limit int) (msgs []models.Message, complete bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	msgs = []models.Message{}
	if len(c.Records) == 0 {
		return msgs, c.LastSeq == 0
	}

	start := c.LastSeq
	if beforeSeq > 0 && beforeSeq-1 < start {
		start = beforeSeq - 1
	}
	for seq := start; seq >= c.FirstSeq && len(msgs) < limit; seq-- {
		m := c.Records[c.at(seq)]
		if beforeTS > 0 && m.Timestamp >= beforeTS {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, len(msgs) == limit || c.FirstSeq <= 1
}

// setStatus mirrors a persisted status change into the ring.
func (c *Chat) setStatus(seq int64, status models.MessageStatus) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.covers(seq) {
		c.Records[c.at(seq)].Status = status
	}
}
