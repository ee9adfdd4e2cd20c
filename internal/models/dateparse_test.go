package models

import (
	"testing"
	"time"
)

func TestParsePostedAtHeute(t *testing.T) {
	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	got, raw := ParsePostedAt("Heute 08:15 Uhr", now)
	if raw != "Heute 08:15 Uhr" {
		t.Fatalf("raw text not preserved: %q", raw)
	}
	if got == nil {
		t.Fatal("expected parsed time, got nil")
	}
	loc := berlin()
	want := time.Date(2024, 3, 10, 8, 15, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParsePostedAtGestern(t *testing.T) {
	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	got, _ := ParsePostedAt("Gestern 23:59", now)
	if got == nil {
		t.Fatal("expected parsed time, got nil")
	}
	loc := berlin()
	want := time.Date(2024, 3, 9, 23, 59, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParsePostedAtExplicitDate(t *testing.T) {
	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	got, _ := ParsePostedAt("15.01.24, 13:45", now)
	if got == nil {
		t.Fatal("expected parsed time, got nil")
	}
	loc := berlin()
	want := time.Date(2024, 1, 15, 13, 45, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParsePostedAtUnparseable(t *testing.T) {
	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	got, raw := ParsePostedAt("Vor 2 Stunden", now)
	if got != nil {
		t.Fatalf("expected nil time for unparseable phrase, got %v", got)
	}
	if raw != "Vor 2 Stunden" {
		t.Fatalf("raw text not preserved: %q", raw)
	}
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]*string{
		"1.234,50": strPtr("1234.50"),
		"450":      strPtr("450"),
		"":         nil,
		"abc":      nil,
	}
	for in, want := range cases {
		got := NormalizeAmount(in)
		if want == nil {
			if got != nil {
				t.Errorf("NormalizeAmount(%q) = %q, want nil", in, *got)
			}
			continue
		}
		if got == nil || *got != *want {
			t.Errorf("NormalizeAmount(%q) = %v, want %q", in, got, *want)
		}
	}
}

func strPtr(s string) *string { return &s }
