package listingsource

import "testing"

func TestStripTitleSuffix(t *testing.T) {
	cases := map[string]string{
		"Woom 3 Fahrrad • Reserviert":    "Woom 3 Fahrrad",
		"Plain title without suffix":     "Plain title without suffix",
		"• leading bullet":               "",
	}
	for in, want := range cases {
		if got := stripTitleSuffix(in); got != want {
			t.Errorf("stripTitleSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeImageURL(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"//img.example.com/a.jpg":                "https://img.example.com/a.jpg",
		"https://img.example.com/b.jpg":          "https://img.example.com/b.jpg",
		"https://img.example.com/placeholder.png": "",
		"data:image/png;base64,abc":              "",
	}
	for in, want := range cases {
		if got := normalizeImageURL(in); got != want {
			t.Errorf("normalizeImageURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParsePrice(t *testing.T) {
	p := parsePrice("1.234,50 € VB")
	if p.Amount == nil || *p.Amount != "1234.50" {
		t.Fatalf("expected normalised amount 1234.50, got %v", p.Amount)
	}
	if !p.Negotiable {
		t.Fatal("expected negotiable=true for VB price")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("  hello   \n  world  ")
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}
