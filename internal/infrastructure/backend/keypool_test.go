package backend

import (
	"testing"
	"time"
)

func TestKeyPoolRoundRobin(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2", "k3"})

	var got []string
	for i := 0; i < 6; i++ {
		k, _, ok := p.Next()
		if !ok {
			t.Fatal("pool empty")
		}
		got = append(got, k.Value)
	}
	want := []string{"k1", "k2", "k3", "k1", "k2", "k3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestKeyPoolNames(t *testing.T) {
	p := NewKeyPool("gemini-cli", []string{"a", "b"})
	k, _, _ := p.Next()
	if k.Name != "GEMINI_CLI_API_KEY_1" {
		t.Errorf("name = %q", k.Name)
	}
	k, _, _ = p.Next()
	if k.Name != "GEMINI_CLI_API_KEY_2" {
		t.Errorf("name = %q", k.Name)
	}
}

func TestKeyPoolSkipsCooledKeys(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2"})
	p.MarkLimited(0, time.Minute)

	for i := 0; i < 3; i++ {
		k, idx, ok := p.Next()
		if !ok {
			t.Fatal("pool empty")
		}
		if idx != 1 || k.Value != "k2" {
			t.Fatalf("got key %q (index %d), want k2", k.Value, idx)
		}
	}
}

func TestKeyPoolAllCooledReturnsSoonest(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2"})
	p.MarkLimited(0, time.Minute)
	p.MarkLimited(1, time.Hour)

	k, idx, ok := p.Next()
	if !ok {
		t.Fatal("pool empty")
	}
	if idx != 0 || k.Value != "k1" {
		t.Errorf("got key %q (index %d), want the soonest-free k1", k.Value, idx)
	}
}

func TestKeyPoolGetFixedIndex(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2"})
	k, ok := p.Get(1)
	if !ok || k.Value != "k2" {
		t.Errorf("Get(1) = %q, %v", k.Value, ok)
	}
	if _, ok := p.Get(5); ok {
		t.Error("Get(5) succeeded on a 2-key pool")
	}
}

func TestKeyPoolEmpty(t *testing.T) {
	p := NewKeyPool("openai", nil)
	if _, _, ok := p.Next(); ok {
		t.Error("empty pool returned a key")
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d", p.Len())
	}
}
