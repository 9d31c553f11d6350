package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
)

func TestQuestion_JSON(t *testing.T) {
	tests := map[string]struct {
		in     string
		assert func(t *testing.T, q domain.Question, err error)
	}{
		"correct answer should be kept server side": {
			in: `{"text":"2+2?","options":["3","4"],"correctAnswer":1,"media":{"url":"x.png"}}`,
			assert: func(t *testing.T, q domain.Question, err error) {
				require.NoError(t, err)
				require.Equal(t, 1, q.CorrectAnswer)

				out, err := json.Marshal(q)
				require.NoError(t, err)
				require.JSONEq(t, `{"text":"2+2?","options":["3","4"],"media":{"url":"x.png"}}`, string(out))
			},
		},
		"missing correct answer should be rejected": {
			in: `{"text":"2+2?"}`,
			assert: func(t *testing.T, _ domain.Question, err error) {
				require.Error(t, err)
			},
		},
		"non numeric correct answer should be rejected": {
			in: `{"correctAnswer":"b"}`,
			assert: func(t *testing.T, _ domain.Question, err error) {
				require.Error(t, err)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var q domain.Question
			err := json.Unmarshal([]byte(tc.in), &q)
			tc.assert(t, q, err)
		})
	}
}
