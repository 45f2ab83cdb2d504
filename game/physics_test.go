package game

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func defaultRule(t *testing.T) Rule {
	t.Helper()
	rule, err := NewRule(DefaultRuleParams())
	require.NoError(t, err)
	return rule
}

func TestNewRule_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *RuleParams)
	}{
		{"zero point to win", func(p *RuleParams) { p.PointToWin = 0 }},
		{"negative field", func(p *RuleParams) { p.FieldSize.Width = -1 }},
		{"zero paddle width", func(p *RuleParams) { p.Paddle.Width = 0 }},
		{"negative paddle width", func(p *RuleParams) { p.Paddle.Width = -4 }},
		{"paddle taller than field", func(p *RuleParams) { p.Paddle.Height = 1000 }},
		{"ball too large", func(p *RuleParams) { p.BallRadius = 400 }},
		{"no horizontal speed", func(p *RuleParams) { p.InitialBallSpeed.VX = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRuleParams()
			tt.mutate(&p)
			_, err := NewRule(p)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}

	rule := defaultRule(t)
	assert.InDelta(t, math.Hypot(6, 3), rule.TotalSpeed(), eps)
}

func TestStep_SpeedConservation(t *testing.T) {
	rule := defaultRule(t)
	speed := rule.TotalSpeed()
	field := rule.FieldSize()

	checked := 0
	for x := 5.0; x < field.Width; x += 37 {
		for y := 5.0; y < field.Height; y += 29 {
			for deg := -170.0; deg <= 180; deg += 20 {
				rad := deg * math.Pi / 180
				frame := FrameState{
					Ball:          BallState{X: x, Y: y, VX: speed * math.Cos(rad), VY: speed * math.Sin(rad)},
					Player1Paddle: PaddleState{Y: y + 20},
					Player2Paddle: PaddleState{Y: y - 30},
				}
				res := Step(frame, rule)
				if res.Scorer != SideNone {
					continue
				}
				checked++
				require.InDelta(t, speed, res.Ball.Speed(), 1e-6, "x=%v y=%v deg=%v", x, y, deg)
			}
		}
	}
	assert.Greater(t, checked, 1000)
}

func TestStep_PaddleBounceAngleBound(t *testing.T) {
	rule := defaultRule(t)
	half := rule.Paddle().Height / 2

	for offset := -half; offset <= half; offset += 5 {
		t.Run("left", func(t *testing.T) {
			frame := FrameState{
				Ball:          BallState{X: 21, Y: 300 + offset, VX: -6, VY: 0},
				Player1Paddle: PaddleState{Y: 300},
				Player2Paddle: PaddleState{Y: 300},
			}
			res := Step(frame, rule)
			require.Equal(t, SideNone, res.Scorer)
			require.Greater(t, res.Ball.VX, 0.0)
			angle := math.Atan2(math.Abs(res.Ball.VY), res.Ball.VX)
			assert.LessOrEqual(t, angle, MaxBounceAngle+eps)
			assert.InDelta(t, rule.TotalSpeed(), res.Ball.Speed(), eps)
			assert.InDelta(t, rule.Paddle().Width+rule.BallRadius(), res.Ball.X, eps)
		})

		t.Run("right", func(t *testing.T) {
			frame := FrameState{
				Ball:          BallState{X: 779, Y: 300 + offset, VX: 6, VY: 0},
				Player1Paddle: PaddleState{Y: 300},
				Player2Paddle: PaddleState{Y: 300},
			}
			res := Step(frame, rule)
			require.Equal(t, SideNone, res.Scorer)
			require.Less(t, res.Ball.VX, 0.0)
			angle := math.Atan2(math.Abs(res.Ball.VY), -res.Ball.VX)
			assert.LessOrEqual(t, angle, MaxBounceAngle+eps)
			assert.InDelta(t, rule.TotalSpeed(), res.Ball.Speed(), eps)
		})
	}
}

func TestStep_PaddleEdgeAndCentreHits(t *testing.T) {
	rule := defaultRule(t)

	centre := Step(FrameState{
		Ball:          BallState{X: 21, Y: 300, VX: -6, VY: 0},
		Player1Paddle: PaddleState{Y: 300},
	}, rule)
	assert.InDelta(t, rule.TotalSpeed(), centre.Ball.VX, eps)
	assert.InDelta(t, 0, centre.Ball.VY, eps)

	edge := Step(FrameState{
		Ball:          BallState{X: 21, Y: 350, VX: -6, VY: 0},
		Player1Paddle: PaddleState{Y: 300},
	}, rule)
	assert.InDelta(t, MaxBounceAngle, math.Atan2(edge.Ball.VY, edge.Ball.VX), eps)
}

func TestStep_WallBounce(t *testing.T) {
	rule := defaultRule(t)

	top := Step(FrameState{Ball: BallState{X: 400, Y: 12, VX: 3, VY: -5}}, rule)
	assert.Equal(t, SideNone, top.Scorer)
	assert.Equal(t, 5.0, top.Ball.VY)
	assert.Equal(t, rule.BallRadius(), top.Ball.Y)

	bottom := Step(FrameState{Ball: BallState{X: 400, Y: 588, VX: 3, VY: 5}}, rule)
	assert.Equal(t, -5.0, bottom.Ball.VY)
	assert.Equal(t, rule.FieldSize().Height-rule.BallRadius(), bottom.Ball.Y)
}

func TestStep_Scoring(t *testing.T) {
	rule := defaultRule(t)

	tests := []struct {
		name   string
		frame  FrameState
		scorer Side
	}{
		{
			name: "ball passes player1",
			frame: FrameState{
				Ball:          BallState{X: 12, Y: 50, VX: -6, VY: 0},
				Player1Paddle: PaddleState{Y: 500},
				Player2Paddle: PaddleState{Y: 500},
			},
			scorer: SidePlayer2,
		},
		{
			name: "ball passes player2",
			frame: FrameState{
				Ball:          BallState{X: 788, Y: 50, VX: 6, VY: 0},
				Player1Paddle: PaddleState{Y: 500},
				Player2Paddle: PaddleState{Y: 500},
			},
			scorer: SidePlayer1,
		},
		{
			name: "ball returned at the goal line",
			frame: FrameState{
				Ball:          BallState{X: 12, Y: 300, VX: -6, VY: 0},
				Player1Paddle: PaddleState{Y: 300},
			},
			scorer: SideNone,
		},
		{
			name: "mid field",
			frame: FrameState{
				Ball: BallState{X: 400, Y: 300, VX: 6, VY: 3},
			},
			scorer: SideNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.frame
			res := Step(tt.frame, rule)
			assert.Equal(t, tt.scorer, res.Scorer)
			assert.Equal(t, before, tt.frame)
			assert.Equal(t, res, Step(tt.frame, rule))
		})
	}
}

func TestServeBall(t *testing.T) {
	rule := defaultRule(t)

	toP1 := ServeBall(rule, SidePlayer1)
	assert.Less(t, toP1.VX, 0.0)
	toP2 := ServeBall(rule, SidePlayer2)
	assert.Greater(t, toP2.VX, 0.0)
	assert.InDelta(t, rule.TotalSpeed(), toP1.Speed(), eps)
	assert.Equal(t, 400.0, toP2.X)
	assert.Equal(t, 300.0, toP2.Y)
}
