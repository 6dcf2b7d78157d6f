package service

import (
	"strings"
	"testing"
)

func TestRedactExplicitKeys(t *testing.T) {
	r := NewRedactor([]string{"my-secret-key-12345"})

	got := r.Redact("the key is my-secret-key-12345, keep it safe")
	if strings.Contains(got, "my-secret-key-12345") {
		t.Errorf("key survived redaction: %q", got)
	}
	if !strings.Contains(got, DefaultRedactionMask) {
		t.Errorf("mask missing: %q", got)
	}
}

func TestRedactLongestKeyWins(t *testing.T) {
	r := NewRedactor([]string{"abcd1234", "abcd1234efgh5678"})

	got := r.Redact("token=abcd1234efgh5678;")
	if strings.Contains(got, "efgh5678") {
		t.Errorf("long key only partially masked: %q", got)
	}
	if got != "token="+DefaultRedactionMask+";" {
		t.Errorf("got %q", got)
	}
}

func TestRedactGenericPatterns(t *testing.T) {
	r := NewRedactor(nil)

	cases := []struct {
		name string
		in   string
		leak string
	}{
		{"openai style", "key sk-abcdefghijklmnopqrstuvwxyz123456 here", "sk-abcdefghijklmnop"},
		{"anthropic style", "ak-ABCDEFGHIJKLMNOPQRSTUV99", "ak-ABCDEFGHIJ"},
		{"zai style", "0123456789abcdef0123456789abcdef.ABCDEFGHIJKLMNOP", "0123456789abcdef"},
	}
	for _, tc := range cases {
		got := r.Redact(tc.in)
		if strings.Contains(got, tc.leak) {
			t.Errorf("%s: leaked through: %q", tc.name, got)
		}
		if !strings.Contains(got, DefaultRedactionMask) {
			t.Errorf("%s: mask missing: %q", tc.name, got)
		}
	}
}

func TestRedactBearerKeepsPrefix(t *testing.T) {
	r := NewRedactor(nil)

	got := r.Redact("Authorization: Bearer abc.def-ghi_jkl")
	want := "Authorization: Bearer " + DefaultRedactionMask
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRedactCleanTextUntouched(t *testing.T) {
	r := NewRedactor([]string{"very-long-secret-key-value"})

	in := "ordinary prompt text, nothing sensitive, even a. dot"
	if got := r.Redact(in); got != in {
		t.Errorf("clean text changed: %q", got)
	}
}

func TestRedactIdempotent(t *testing.T) {
	r := NewRedactor([]string{"my-secret-key-12345"})

	once := r.Redact("a my-secret-key-12345 b sk-abcdefghijklmnopqrstuvwxyz c")
	twice := r.Redact(once)
	if once != twice {
		t.Errorf("not idempotent: %q vs %q", once, twice)
	}
}

func TestRedactShortKeysIgnored(t *testing.T) {
	r := NewRedactor([]string{"abc", ""})
	if r.KeyCount() != 0 {
		t.Fatalf("short keys kept: %d", r.KeyCount())
	}
	in := "abc is a word"
	if got := r.Redact(in); got != in {
		t.Errorf("short key masked: %q", got)
	}
}

func TestRedactCustomMask(t *testing.T) {
	r := NewRedactorWithMask([]string{"super-secret-token-1"}, "[GONE]")
	got := r.Redact("x super-secret-token-1 y")
	if got != "x [GONE] y" {
		t.Errorf("got %q", got)
	}
}

func TestRedactCacheBounded(t *testing.T) {
	r := NewRedactor(nil)

	// Overflow the cache; the redactor must keep answering correctly.
	for i := 0; i < redactCacheMaxEntries+10; i++ {
		s := strings.Repeat("x", i%50) + "sk-abcdefghijklmnopqrstuvwxyz123456"
		if got := r.Redact(s); strings.Contains(got, "sk-abcdef") {
			t.Fatalf("leak at %d: %q", i, got)
		}
	}
	r.mu.Lock()
	n := len(r.cache)
	r.mu.Unlock()
	if n > redactCacheMaxEntries {
		t.Errorf("cache grew past bound: %d", n)
	}
}

func TestRedactLongInputSkipsCache(t *testing.T) {
	r := NewRedactor(nil)
	long := strings.Repeat("a", redactCacheMaxInput+100) + " sk-abcdefghijklmnopqrstuvwxyz123456"
	if got := r.Redact(long); strings.Contains(got, "sk-abcdef") {
		t.Error("long input not redacted")
	}
	r.mu.Lock()
	n := len(r.cache)
	r.mu.Unlock()
	if n != 0 {
		t.Errorf("long input cached: %d entries", n)
	}
}
