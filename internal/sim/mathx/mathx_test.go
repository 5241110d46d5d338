package mathx

import "testing"

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{0, 8, 0, 0},
		{7, 8, 0, 7},
		{8, 8, 1, 0},
		{-1, 8, -1, 7},
		{-8, 8, -1, 0},
		{-9, 8, -2, 7},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestQuantizeRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		v    float64
		want int
	}{
		{0, 0},
		{7.4, 0},
		{7.5, 1}, // 7.5 -> 8
		{8.5, 1}, // 8.5 -> 8
		{15.5, 2},
		{-0.4, 0},
		{-0.6, -1},
		{-8, -1},
	}
	for _, c := range cases {
		if got := Quantize(c.v, 8); got != c.want {
			t.Fatalf("Quantize(%v)=%d want %d", c.v, got, c.want)
		}
	}
}

func TestHashIsDeterministic(t *testing.T) {
	if Hash2(1, 3, 4) != Hash2(1, 3, 4) {
		t.Fatalf("Hash2 not deterministic")
	}
	if Hash2(1, 3, 4) == Hash2(2, 3, 4) {
		t.Fatalf("Hash2 ignores seed")
	}
	if Hash3(1, 1, 2, 3) == Hash3(1, 3, 2, 1) {
		t.Fatalf("Hash3 symmetric in x/z")
	}
	u := Unit(Hash2(9, 9, 9))
	if u < 0 || u >= 1 {
		t.Fatalf("Unit out of range: %v", u)
	}
}
