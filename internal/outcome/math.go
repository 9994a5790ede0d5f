package outcome

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
)

var hundred = decimal.NewFromInt(100)

// returnPlaces is the precision stored for return percentages.
const returnPlaces = 4

// Params are the knobs of the outcome arithmetic.
type Params struct {
	// Notional is the simulated position size in dollars.
	Notional float64
	// DeadZonePct is the symmetric band, in percent, inside which a move
	// counts as flat.
	DeadZonePct float64
}

// ReturnPct is (price - base) / base * 100 at full decimal precision.
// Verdicts are taken on this value; only stored results are rounded.
func ReturnPct(base, price float64) (decimal.Decimal, error) {
	b := decimal.NewFromFloat(base)
	if !b.IsPositive() {
		return decimal.Zero, resilience.Errorf(resilience.KindComputationError, "outcome: base price %v is not positive", base)
	}
	return decimal.NewFromFloat(price).Sub(b).Div(b).Mul(hundred), nil
}

// Correct applies the dead zone: bullish needs a move above +zone, bearish
// below -zone, neutral stays within it.
func Correct(s model.Sentiment, ret decimal.Decimal, deadZonePct float64) (bool, error) {
	zone := decimal.NewFromFloat(deadZonePct)
	switch s {
	case model.SentimentBullish:
		return ret.GreaterThan(zone), nil
	case model.SentimentBearish:
		return ret.LessThan(zone.Neg()), nil
	case model.SentimentNeutral:
		return ret.Abs().LessThanOrEqual(zone), nil
	default:
		return false, resilience.Errorf(resilience.KindComputationError, "outcome: unknown sentiment %q", s)
	}
}

// PnL is the dollar result of a position of notional size in the predicted
// direction, rounded to cents. Bearish calls are short.
func PnL(s model.Sentiment, ret decimal.Decimal, notional float64) decimal.Decimal {
	pnl := ret.Div(hundred).Mul(decimal.NewFromFloat(notional))
	if s == model.SentimentBearish {
		pnl = pnl.Neg()
	}
	return pnl.Round(2)
}

// Evaluate fills a horizon result for a resolved price.
func Evaluate(days int, s model.Sentiment, base, price float64, p Params) (model.HorizonResult, error) {
	ret, err := ReturnPct(base, price)
	if err != nil {
		return model.HorizonResult{Days: days}, err
	}
	ok, err := Correct(s, ret, p.DeadZonePct)
	if err != nil {
		return model.HorizonResult{Days: days}, err
	}
	r := ret.Round(returnPlaces).InexactFloat64()
	pnl := PnL(s, ret, p.Notional).InexactFloat64()
	return model.HorizonResult{
		Days:    days,
		Price:   model.Float(price),
		Return:  &r,
		Correct: &ok,
		PnL:     &pnl,
	}, nil
}

// errNullClose marks a bar whose close is missing.
var errNullClose = eris.New("outcome: resolved bar has a null close")
