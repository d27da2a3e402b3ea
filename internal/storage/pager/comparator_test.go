package pager

import "testing"

func TestIntComparator_Order(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{0, 0, 0},
		{1, 2, -1},
		{2, 1, 1},
		{-1, 1, -1},
		{-5, -1, -1},
		{-1, -5, 1},
	}
	for _, c := range cases {
		got := IntComparator(EncodeInt64Key(c.a), EncodeInt64Key(c.b))
		if sign(got) != c.want {
			t.Errorf("IntComparator(%d, %d) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestIntComparator_RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40)} {
		if got := DecodeInt64Key(EncodeInt64Key(v)); got != v {
			t.Errorf("EncodeInt64Key/DecodeInt64Key(%d) round-tripped to %d", v, got)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
