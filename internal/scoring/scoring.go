package scoring

// Rating is the letter grade derived from a quality score.
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
)

const (
	baseSyntax = 30

	mxPresent = 20
	mxAbsent  = -10

	roleClean = 15
	roleHit   = -5

	disposableClean = 15
	disposableHit   = -20

	namedProvider = 10
	mixedProvider = 5

	overallValid   = 10
	overallInvalid = -15
)

// Signals are the inputs gathered by validation. Checked flags distinguish
// "not checked" from a negative result.
type Signals struct {
	SyntaxOK      bool
	MXChecked     bool
	HasMX         bool
	RoleChecked   bool
	RoleBased     bool
	Disposable    bool
	NamedProvider bool
	Valid         bool
}

// Score is a pure additive model clamped to [0,100].
func Score(s Signals) int {
	if !s.SyntaxOK {
		return 0
	}

	score := baseSyntax

	switch {
	case s.HasMX:
		score += mxPresent
	case s.MXChecked:
		score += mxAbsent
	}

	switch {
	case !s.RoleBased:
		score += roleClean
	case s.RoleChecked:
		score += roleHit
	}

	if s.Disposable {
		score += disposableHit
	} else {
		score += disposableClean
	}

	if s.NamedProvider {
		score += namedProvider
	} else {
		score += mixedProvider
	}

	if s.Valid {
		score += overallValid
	} else {
		score += overallInvalid
	}

	return clamp(score)
}

func RatingFor(score int) Rating {
	switch {
	case score >= 80:
		return RatingA
	case score >= 60:
		return RatingB
	case score >= 40:
		return RatingC
	default:
		return RatingD
	}
}

func Evaluate(s Signals) (int, Rating) {
	score := Score(s)
	return score, RatingFor(score)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
