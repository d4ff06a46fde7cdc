package semantic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankOrdersByOverlap(t *testing.T) {
	files := map[string]string{
		"a.txt": "alpha beta gamma",
		"b.txt": "beta delta epsilon",
		"c.txt": "nothing relevant",
	}

	res := NewEngine(1024).Rank("beta gamma", files)
	require.Len(t, res, 3)
	require.Equal(t, "a.txt", res[0].Path)
	require.Equal(t, "b.txt", res[1].Path)
	require.Greater(t, res[0].Score, res[1].Score)
	require.Zero(t, res[2].Score)
}

func TestRankUsesPathTokens(t *testing.T) {
	files := map[string]string{
		"src/navbar.tsx": "export const X = 1",
		"src/footer.tsx": "export const Y = 2",
	}

	res := NewEngine(0).Rank("make the navbar blue", files)
	require.Equal(t, "src/navbar.tsx", res[0].Path)
}

func TestSelectHonoursBudget(t *testing.T) {
	files := map[string]string{
		"big.go":   "package big // button " + string(make([]byte, 100)),
		"small.go": "package small // button",
		"other.go": "package other",
	}

	e := NewEngine(0)
	all, dropped := e.Select("button", files, 0)
	require.Equal(t, files, all)
	require.Empty(t, dropped)

	selected, dropped := e.Select("button", files, 40)
	require.Contains(t, selected, "small.go")
	require.Contains(t, selected, "other.go")
	require.NotContains(t, selected, "big.go")
	require.Equal(t, []string{"big.go"}, dropped)
}
