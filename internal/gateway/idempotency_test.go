package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyReplayAndConflict(t *testing.T) {
	s := NewIdempotencyStore()
	hash := HashPayload([]byte(`{"message":"hi"}`))

	lookup, _ := s.Check("chat", "key-1", hash)
	assert.Equal(t, IdempotencyMiss, lookup)

	s.Store("chat", "key-1", hash, 200, json.RawMessage(`{"ok":true}`))

	lookup, record := s.Check("chat", "key-1", hash)
	assert.Equal(t, IdempotencyReplay, lookup)
	assert.Equal(t, 200, record.Status)
	assert.JSONEq(t, `{"ok":true}`, string(record.Body))

	// Same key, different payload: conflict.
	otherHash := HashPayload([]byte(`{"message":"different"}`))
	lookup, _ = s.Check("chat", "key-1", otherHash)
	assert.Equal(t, IdempotencyConflict, lookup)

	// Scopes are independent.
	lookup, _ = s.Check("research", "key-1", hash)
	assert.Equal(t, IdempotencyMiss, lookup)
}
