package chat

import (
	"fmt"
	"testing"

	"beacon/internal/models"
)

func TestChat_Push_NoWrap(t *testing.T) {
	c := newChat("c1", 10)

	for i := 1; i <= 5; i++ {
		c.push(models.Message{Seq: int64(i), Content: fmt.Sprintf("msg %d", i)})
	}

	if len(c.Records) != 5 {
		t.Errorf("expected 5 records, got %d", len(c.Records))
	}

	recs, complete := c.before(0, 0, 2)
	if !complete {
		t.Error("expected a full page to be complete")
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Content != "msg 5" {
		t.Errorf("expected newest 'msg 5', got '%s'", recs[0].Content)
	}
}

func TestChat_Push_Wrap(t *testing.T) {
	c := newChat("c1", 3)

	// Add 3 records (full)
	for i := 1; i <= 3; i++ {
		c.push(models.Message{Seq: int64(i), Content: fmt.Sprintf("msg %d", i)})
	}

	// Add 1 more (wrap)
	c.push(models.Message{Seq: 4, Content: "msg 4"})

	if c.FirstSeq != 2 || c.LastSeq != 4 {
		t.Fatalf("expected ring to hold seq 2..4, got %d..%d", c.FirstSeq, c.LastSeq)
	}

	recs, complete := c.before(0, 0, 10)
	if complete {
		t.Error("ring lost msg 1, storage must be consulted")
	}
	expected := []string{"msg 4", "msg 3", "msg 2"}
	for i, exp := range expected {
		if recs[i].Content != exp {
			t.Errorf("index %d: expected '%s', got '%s'", i, exp, recs[i].Content)
		}
	}
}

func TestChat_Before_Timestamp(t *testing.T) {
	c := newChat("c1", 10)
	for i := 1; i <= 4; i++ {
		c.push(models.Message{Seq: int64(i), Timestamp: int64(i * 100)})
	}

	recs, complete := c.before(0, 300, 10)
	if !complete {
		t.Error("ring holds the whole conversation")
	}
	if len(recs) != 2 || recs[0].Seq != 2 {
		t.Errorf("expected [2 1], got %+v", recs)
	}
}

func TestChat_SetStatus(t *testing.T) {
	c := newChat("c1", 2)
	for i := 1; i <= 3; i++ {
		c.push(models.Message{Seq: int64(i), Status: models.MessageStatusSent})
	}

	c.setStatus(3, models.MessageStatusRead)
	c.setStatus(1, models.MessageStatusRead) // evicted, ignored

	recs, _ := c.before(0, 0, 1)
	if recs[0].Status != models.MessageStatusRead {
		t.Errorf("expected read, got %s", recs[0].Status)
	}
}
