package canon

import "testing"

func TestURLCanonicalizeScenario3(t *testing.T) {
	a, err := URL("HTTPS://Example.COM/a/?utm_source=x&b=2&a=1#frag")
	if err != nil {
		t.Fatalf("canon 1: %v", err)
	}
	b, err := URL("https://example.com/a?a=1&b=2")
	if err != nil {
		t.Fatalf("canon 2: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal canonical urls, got %q vs %q", a, b)
	}
	if a != "https://example.com/a?a=1&b=2" {
		t.Fatalf("unexpected canonical form: %q", a)
	}
}

func TestURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Foo.COM/bar/?z=1&a=2&gclid=123#x",
		"http://Example.com/",
		"example.com/path/",
	}
	for _, in := range inputs {
		once, err := URL(in)
		if err != nil {
			t.Fatalf("URL(%q): %v", in, err)
		}
		twice, err := URL(once)
		if err != nil {
			t.Fatalf("URL(%q) second pass: %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q != %q", once, twice)
		}
	}
}

func TestURLDropsTrackingParams(t *testing.T) {
	out, err := URL("https://example.com/?utm_campaign=x&fbclid=y&mc_cid=z&keep=1")
	if err != nil {
		t.Fatal(err)
	}
	if out != "https://example.com/?keep=1" {
		t.Fatalf("expected tracking params dropped, got %q", out)
	}
}

func TestMatchesSuffix(t *testing.T) {
	if !MatchesSuffix("sub.example.com", []string{"example.com"}) {
		t.Fatalf("expected subdomain match")
	}
	if MatchesSuffix("notexample.com", []string{"example.com"}) {
		t.Fatalf("did not expect suffix match across word boundary")
	}
}
