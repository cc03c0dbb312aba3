package util

import "testing"

func TestEstimateTextTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"你好", 1},
		{"你好吗", 2},
		{"hi你好", 2}, // ceil(2/4) + ceil(2/2)
	}
	for _, tc := range cases {
		if got := EstimateTextTokens(tc.text); got != tc.want {
			t.Fatalf("EstimateTextTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
