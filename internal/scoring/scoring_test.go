package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    int
	}{
		{
			name:    "syntax failure scores zero",
			signals: Signals{SyntaxOK: false, HasMX: true, Valid: true},
			want:    0,
		},
		{
			name: "best case",
			signals: Signals{
				SyntaxOK: true, MXChecked: true, HasMX: true,
				RoleChecked: true, NamedProvider: true, Valid: true,
			},
			want: 100,
		},
		{
			name:    "valid mixed domain without dns or role checks",
			signals: Signals{SyntaxOK: true, Valid: true},
			want:    30 + 15 + 15 + 5 + 10,
		},
		{
			name: "mx absent and checked",
			signals: Signals{
				SyntaxOK: true, MXChecked: true, HasMX: false,
				RoleChecked: true, Valid: false,
			},
			want: 30 - 10 + 15 + 15 + 5 - 15,
		},
		{
			name: "role based and checked",
			signals: Signals{
				SyntaxOK: true, MXChecked: true, HasMX: true,
				RoleChecked: true, RoleBased: true, NamedProvider: true, Valid: false,
			},
			want: 30 + 20 - 5 + 15 + 10 - 15,
		},
		{
			name:    "role based but not checked earns nothing",
			signals: Signals{SyntaxOK: true, RoleBased: true, Valid: true},
			want:    30 + 15 + 5 + 10,
		},
		{
			name: "worst case clamps to zero",
			signals: Signals{
				SyntaxOK: true, MXChecked: true, RoleChecked: true,
				RoleBased: true, Disposable: true, Valid: false,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.signals))
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	s := Signals{SyntaxOK: true, MXChecked: true, HasMX: true, Valid: true}
	first, firstRating := Evaluate(s)
	for i := 0; i < 10; i++ {
		score, rating := Evaluate(s)
		assert.Equal(t, first, score)
		assert.Equal(t, firstRating, rating)
	}
}

func TestRatingBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Rating
	}{
		{100, RatingA},
		{80, RatingA},
		{79, RatingB},
		{60, RatingB},
		{59, RatingC},
		{40, RatingC},
		{39, RatingD},
		{0, RatingD},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RatingFor(tt.score), "score %d", tt.score)
	}
}
