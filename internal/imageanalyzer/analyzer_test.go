package imageanalyzer

import (
	"testing"

	"github.com/tbrandt/adscout/internal/eventbus"
)

func TestHammingDistanceIdenticalHashesIsZero(t *testing.T) {
	if d := hammingDistance(0xABCDEF, 0xABCDEF); d != 0 {
		t.Fatalf("expected distance 0 for identical hashes, got %d", d)
	}
}

func TestHammingDistanceCountsDifferingBits(t *testing.T) {
	if d := hammingDistance(0b0000, 0b1111); d != 4 {
		t.Fatalf("expected distance 4, got %d", d)
	}
	if d := hammingDistance(0b1010, 0b0101); d != 4 {
		t.Fatalf("expected distance 4, got %d", d)
	}
}

func TestConfidenceFromMatchesUsesClosestDistance(t *testing.T) {
	matches := []eventbus.MatchedListing{{HammingDistance: 0}, {HammingDistance: 10}}
	if c := confidenceFromMatches(matches); c != 1 {
		t.Fatalf("expected confidence 1 for a zero-distance match, got %v", c)
	}
}

func TestConfidenceFromMatchesRoundsToThreeDecimals(t *testing.T) {
	matches := []eventbus.MatchedListing{{HammingDistance: 3}}
	got := confidenceFromMatches(matches)
	want := 0.953 // 1 - 3/64 = 0.953125, rounded to 3 decimals
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
