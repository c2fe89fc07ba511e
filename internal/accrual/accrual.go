// Package accrual computes the debt owed on a lien the same way the
// settlement contract does: 256-bit integer math with 18 decimal fixed-point
// intermediates, linear accrual per 365 day year.
package accrual

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/kettlefi/kettle/pkg/types"
)

// SecondsPerYear is the fixed year length used by the settlement contract
const SecondsPerYear = 365 * 24 * 60 * 60

var (
	// ErrOverflow is returned when an intermediate does not fit in 256 bits.
	// The contract reverts in the same situation.
	ErrOverflow = errors.New("accrual: uint256 overflow")

	// ErrInvalidInput is returned for negative or missing parameters
	ErrInvalidInput = errors.New("accrual: invalid input")

	wad         = uint256.NewInt(1_000_000_000_000_000_000)
	year        = uint256.NewInt(SecondsPerYear)
	basisPoints = uint256.NewInt(types.BasisPoints)
)

// Params are the lien fields that drive accrual
type Params struct {
	Principal   *big.Int
	StartTime   *big.Int
	Duration    *big.Int
	FeeRate     *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
}

// LienParams extracts the accrual parameters of a lien
func LienParams(l *types.Lien) Params {
	return Params{
		Principal:   l.Principal,
		StartTime:   l.StartTime,
		Duration:    l.Duration,
		FeeRate:     l.Fee,
		Rate:        l.Rate,
		DefaultRate: l.DefaultRate,
	}
}

// Debt is the decomposed amount owed at a point in time
type Debt struct {
	Debt           *big.Int `json:"debt"`
	FeeInterest    *big.Int `json:"feeInterest"`
	LenderInterest *big.Int `json:"lenderInterest"`
}

// CurrentDebtAmount returns principal + fee interest + lender interest at now.
// Fee interest always accrues at the fee rate from start to now. Lender
// interest accrues at rate until start+duration and, past that boundary, the
// accrued amount keeps accruing at the default rate.
func CurrentDebtAmount(now *big.Int, p Params) (Debt, error) {
	args, err := toWords(now, p.Principal, p.StartTime, p.Duration, p.FeeRate, p.Rate, p.DefaultRate)
	if err != nil {
		return Debt{}, err
	}
	t, principal, start, duration, feeRate, rate, defaultRate :=
		args[0], args[1], args[2], args[3], args[4], args[5], args[6]

	withFee, err := accrue(principal, feeRate, start, t)
	if err != nil {
		return Debt{}, fmt.Errorf("fee interest: %w", err)
	}

	boundary, overflow := new(uint256.Int).AddOverflow(start, duration)
	if overflow {
		return Debt{}, ErrOverflow
	}

	var withRate *uint256.Int
	if t.Gt(boundary) {
		atBoundary, err := accrue(principal, rate, start, boundary)
		if err != nil {
			return Debt{}, fmt.Errorf("lender interest: %w", err)
		}
		withRate, err = accrue(atBoundary, defaultRate, boundary, t)
		if err != nil {
			return Debt{}, fmt.Errorf("default interest: %w", err)
		}
	} else {
		withRate, err = accrue(principal, rate, start, t)
		if err != nil {
			return Debt{}, fmt.Errorf("lender interest: %w", err)
		}
	}

	feeInterest := new(uint256.Int).Sub(withFee, principal)
	lenderInterest := new(uint256.Int).Sub(withRate, principal)

	debt, overflow := new(uint256.Int).AddOverflow(principal, feeInterest)
	if overflow {
		return Debt{}, ErrOverflow
	}
	if _, overflow = debt.AddOverflow(debt, lenderInterest); overflow {
		return Debt{}, ErrOverflow
	}

	return Debt{
		Debt:           debt.ToBig(),
		FeeInterest:    feeInterest.ToBig(),
		LenderInterest: lenderInterest.ToBig(),
	}, nil
}

// ForLien computes the debt of a lien at the given wall-clock time
func ForLien(l *types.Lien, now time.Time) (Debt, error) {
	if l == nil {
		return Debt{}, fmt.Errorf("%w: nil lien", ErrInvalidInput)
	}
	return CurrentDebtAmount(big.NewInt(now.Unix()), LienParams(l))
}

// Accrue scales amount by 1 + rate/10000 * (t1-t0)/year
func Accrue(amount, rate, t0, t1 *big.Int) (*big.Int, error) {
	args, err := toWords(amount, rate, t0, t1)
	if err != nil {
		return nil, err
	}
	out, err := accrue(args[0], args[1], args[2], args[3])
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

func accrue(amount, bips, t0, t1 *uint256.Int) (*uint256.Int, error) {
	// the contract never runs with now < start; treat it as no time elapsed
	elapsed := new(uint256.Int)
	if t1.Gt(t0) {
		elapsed.Sub(t1, t0)
	}

	// yearsWad = elapsed * 1e18 / year
	yearsWad, overflow := new(uint256.Int).MulOverflow(elapsed, wad)
	if overflow {
		return nil, ErrOverflow
	}
	yearsWad.Div(yearsWad, year)

	// rateWad = bips * 1e18 / 10000
	rateWad, overflow := new(uint256.Int).MulOverflow(bips, wad)
	if overflow {
		return nil, ErrOverflow
	}
	rateWad.Div(rateWad, basisPoints)

	growth, overflow := new(uint256.Int).MulOverflow(yearsWad, rateWad)
	if overflow {
		return nil, ErrOverflow
	}
	growth.Div(growth, wad)

	interest, overflow := new(uint256.Int).MulOverflow(amount, growth)
	if overflow {
		return nil, ErrOverflow
	}
	interest.Div(interest, wad)

	out, overflow := new(uint256.Int).AddOverflow(amount, interest)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func toWords(values ...*big.Int) ([]*uint256.Int, error) {
	words := make([]*uint256.Int, len(values))
	for i, v := range values {
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("%w: argument %d", ErrInvalidInput, i)
		}
		w, overflow := uint256.FromBig(v)
		if overflow {
			return nil, ErrOverflow
		}
		words[i] = w
	}
	return words, nil
}
