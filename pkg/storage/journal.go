package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Event journal: an append-only, sequence-keyed log of every event the engine
// emits. Off-chain consumers (indexers, the websocket hub on reconnect) can
// replay it from any sequence number. Entries are staged into the same batch
// as the state mutation that produced them, so the journal never records an
// event whose state change did not commit.

const (
	prefixEvent = "evt:"
	keyEventSeq = "evtseq"
)

// Envelope is the stored form of one emitted event.
type Envelope struct {
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	At   int64           `json:"at"` // unix milliseconds
	Data json.RawMessage `json:"data"`
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func (s *Store) loadEventSeq() error {
	val, found, err := s.Get([]byte(keyEventSeq))
	if err != nil {
		return err
	}
	if found && len(val) == 8 {
		s.evtSeq = binary.BigEndian.Uint64(val)
	}
	return nil
}

// AppendEvent stages an event into b and returns its sequence number.
// The sequence counter advances even if the batch is later discarded;
// gaps are harmless, ordering is what matters.
func (s *Store) AppendEvent(b *Batch, typ string, at int64, data []byte) (uint64, error) {
	s.mu.Lock()
	seq := s.evtSeq
	s.evtSeq++
	next := s.evtSeq
	s.mu.Unlock()

	env := Envelope{Seq: seq, Type: typ, At: at, Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := b.Set(eventKey(seq), raw); err != nil {
		return 0, err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := b.Set([]byte(keyEventSeq), buf[:]); err != nil {
		return 0, err
	}
	return seq, nil
}

// Events replays journal entries with sequence >= from, in order.
func (s *Store) Events(from uint64, fn func(Envelope) error) error {
	return s.Iter([]byte(prefixEvent), func(_, val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return nil // skip undecodable entries
		}
		if env.Seq < from {
			return nil
		}
		return fn(env)
	})
}
