package game

import (
	"errors"
	"fmt"
	"math"
)

// MaxBounceAngle is the largest deflection from straight-ahead a paddle hit can produce (75 degrees).
const MaxBounceAngle = 5 * math.Pi / 12

var ErrInvalidRule = errors.New("invalid match rule")

type Velocity struct {
	VX float64 `json:"vx" yaml:"vx"`
	VY float64 `json:"vy" yaml:"vy"`
}

type FieldSize struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

type PaddleSize struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// RuleParams is the unvalidated input to NewRule.
type RuleParams struct {
	PointToWin       int
	InitialBallSpeed Velocity
	FieldSize        FieldSize
	Paddle           PaddleSize
	BallRadius       float64
}

// DefaultRuleParams returns the stock 800x600 table.
func DefaultRuleParams() RuleParams {
	return RuleParams{
		PointToWin:       5,
		InitialBallSpeed: Velocity{VX: 6, VY: 3},
		FieldSize:        FieldSize{Width: 800, Height: 600},
		Paddle:           PaddleSize{Width: 10, Height: 100},
		BallRadius:       10,
	}
}

// Rule is an immutable rule set. The zero value is not usable; build one with NewRule.
type Rule struct {
	pointToWin       int
	initialBallSpeed Velocity
	fieldSize        FieldSize
	paddle           PaddleSize
	ballRadius       float64
	totalSpeed       float64
}

func NewRule(p RuleParams) (Rule, error) {
	if p.PointToWin <= 0 {
		return Rule{}, fmt.Errorf("%w: point to win must be positive, got %d", ErrInvalidRule, p.PointToWin)
	}
	if p.FieldSize.Width <= 0 || p.FieldSize.Height <= 0 {
		return Rule{}, fmt.Errorf("%w: field size must be positive, got %vx%v", ErrInvalidRule, p.FieldSize.Width, p.FieldSize.Height)
	}
	if p.Paddle.Width <= 0 || p.Paddle.Height <= 0 || p.Paddle.Height > p.FieldSize.Height {
		return Rule{}, fmt.Errorf("%w: paddle %vx%v does not fit the field", ErrInvalidRule, p.Paddle.Width, p.Paddle.Height)
	}
	if p.BallRadius < 0 || 2*p.BallRadius >= p.FieldSize.Height || 2*(p.BallRadius+p.Paddle.Width) >= p.FieldSize.Width {
		return Rule{}, fmt.Errorf("%w: ball radius %v does not fit the field", ErrInvalidRule, p.BallRadius)
	}
	if p.InitialBallSpeed.VX == 0 {
		return Rule{}, fmt.Errorf("%w: initial horizontal speed must not be zero", ErrInvalidRule)
	}
	return Rule{
		pointToWin:       p.PointToWin,
		initialBallSpeed: p.InitialBallSpeed,
		fieldSize:        p.FieldSize,
		paddle:           p.Paddle,
		ballRadius:       p.BallRadius,
		totalSpeed:       math.Hypot(p.InitialBallSpeed.VX, p.InitialBallSpeed.VY),
	}, nil
}

func (r Rule) PointToWin() int { return r.pointToWin }
func (r Rule) InitialBallSpeed() Velocity { return r.initialBallSpeed }
func (r Rule) FieldSize() FieldSize { return r.fieldSize }
func (r Rule) Paddle() PaddleSize { return r.paddle }
func (r Rule) BallRadius() float64 { return r.ballRadius }
func (r Rule) TotalSpeed() float64 { return r.totalSpeed }
func (r Rule) paddleHalfHeight() float64 { return r.paddle.Height / 2 }
func (r Rule) leftPaddlePlane() float64 { return r.paddle.Width }
func (r Rule) rightPaddlePlane() float64 { return r.fieldSize.Width - r.paddle.Width }
func (r Rule) centre() (float64, float64) { return r.fieldSize.Width / 2, r.fieldSize.Height / 2 }
