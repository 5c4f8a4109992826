package transport

import (
	"testing"
	"time"
)

func newTestSocket() *Socket {
	return &Socket{ID: "test", history: make(map[uint64]time.Time)}
}

// TestCanSend_RateLimitsWithinWindow covers the RFC 6762 §6.2 per-record
// multicast rate limit: a second send of the same record within minGap is
// suppressed.
func TestCanSend_RateLimitsWithinWindow(t *testing.T) {
	s := newTestSocket()
	hashes := []uint64{42}

	if !s.canSend(hashes, time.Second) {
		t.Fatal("first send should be allowed")
	}
	s.recordSent(hashes)

	if s.canSend(hashes, time.Second) {
		t.Error("second send within window should be rate-limited")
	}
}

// TestCanSend_AllowsAfterWindow checks the rate limit clears once the
// window elapses.
func TestCanSend_AllowsAfterWindow(t *testing.T) {
	s := newTestSocket()
	hashes := []uint64{7}
	s.recordSent(hashes)
	s.history[7] = time.Now().Add(-2 * time.Second)

	if !s.canSend(hashes, time.Second) {
		t.Error("send should be allowed once the window has elapsed")
	}
}

// TestCanSend_EmptyHashesAlwaysAllowed covers queries, which don't
// participate in per-record multicast rate limiting.
func TestCanSend_EmptyHashesAlwaysAllowed(t *testing.T) {
	s := newTestSocket()
	if !s.canSend(nil, time.Second) {
		t.Error("empty hash set should never be rate-limited")
	}
}

// TestHasRecentlySent mirrors canSend's negation for the response-
// suppression use case.
func TestHasRecentlySent(t *testing.T) {
	s := newTestSocket()
	hashes := []uint64{1}
	if s.HasRecentlySent(hashes, time.Second) {
		t.Error("should not report recently sent before any send")
	}
	s.recordSent(hashes)
	if !s.HasRecentlySent(hashes, time.Second) {
		t.Error("should report recently sent immediately after send")
	}
}
