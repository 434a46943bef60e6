package provider

import "testing"

func TestDollarsToCents(t *testing.T) {
	cases := map[float64]int64{
		799.99: 79999,
		0.1:    10,
		12.345: 1235,
		100:    10000,
	}
	for in, want := range cases {
		if got := DollarsToCents(in); got != want {
			t.Errorf("DollarsToCents(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestParseCents(t *testing.T) {
	got, err := ParseCents("$1,299.99")
	if err != nil || got != 129999 {
		t.Fatalf("ParseCents = %d, %v", got, err)
	}
	if _, err := ParseCents("abc"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseCents(""); err == nil {
		t.Fatal("expected error for empty price")
	}
}

func TestNormalizeItemNumber(t *testing.T) {
	if got := NormalizeItemNumber(" 75192 "); got != "75192-1" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeItemNumber("10497-2"); got != "10497-2" {
		t.Fatalf("got %q", got)
	}
}
