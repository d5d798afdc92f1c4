package caption

import "strings"

// Word is one whitespace-separated token of rendered text.
type Word struct {
	Text  string
	Added bool
}

// DiffWords marks the words of next that are not part of the longest common
// subsequence with prev. Words shared in order stay unchanged; first-time
// text is entirely added.
func DiffWords(prev, next string) []Word {
	a := strings.Fields(prev)
	b := strings.Fields(next)

	out := make([]Word, len(b))
	for i, w := range b {
		out[i] = Word{Text: w, Added: true}
	}
	if len(a) == 0 || len(b) == 0 {
		return out
	}

	// dp[i][j] is the LCS length of a[i:] and b[j:].
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			out[j].Added = false
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}
