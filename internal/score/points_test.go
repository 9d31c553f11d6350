package score_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/score"
)

func TestPoints(t *testing.T) {
	tests := map[string]struct {
		timeTaken float64
		want      int64
	}{
		"instant answer should get the full bonus":       {timeTaken: 0, want: 200},
		"answer at the window edge should get no bonus":  {timeTaken: 10, want: 100},
		"slow answer should floor at the base award":     {timeTaken: 15, want: 100},
		"answer mid window should get a partial bonus":   {timeTaken: 4, want: 160},
		"negative time should count as an instant reply": {timeTaken: -3, want: 200},
		"infinite time should get only the base award":   {timeTaken: math.Inf(1), want: 100},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := score.Points(tt.timeTaken)
			require.True(t, decimal.NewFromInt(tt.want).Equal(got), "want %d, got %s", tt.want, got)
		})
	}
}

func TestPoints_FractionalSeconds(t *testing.T) {
	got := score.Points(2.5)
	require.Equal(t, "175", got.String())
}

func TestPoints_Monotonic(t *testing.T) {
	prev := score.Points(0)
	for s := 0.5; s <= 12; s += 0.5 {
		cur := score.Points(s)
		require.True(t, cur.LessThanOrEqual(prev), "points must not grow with time: t=%v", s)
		prev = cur
	}
}
