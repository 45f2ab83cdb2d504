package game

import "math"

type Side string

const (
	SideNone    Side = ""
	SidePlayer1 Side = "player1"
	SidePlayer2 Side = "player2"
)

type BallState struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

func (b BallState) Speed() float64 {
	return math.Hypot(b.VX, b.VY)
}

// PaddleState holds the paddle centre.
type PaddleState struct {
	Y float64 `json:"y"`
}

type FrameState struct {
	Ball          BallState
	Player1Paddle PaddleState
	Player2Paddle PaddleState
}

type StepResult struct {
	Ball   BallState
	Scorer Side
}

// Step computes one simulation step. It is pure: the input frame is not modified.
func Step(frame FrameState, rule Rule) StepResult {
	ball := frame.Ball
	r := rule.ballRadius
	height := rule.fieldSize.Height

	ball.X += ball.VX
	ball.Y += ball.VY

	if ball.Y-r <= 0 {
		ball.Y = r
		ball.VY = math.Abs(ball.VY)
	} else if ball.Y+r >= height {
		ball.Y = height - r
		ball.VY = -math.Abs(ball.VY)
	}

	deflected := true
	switch {
	case ball.VX < 0 && ball.X-r <= rule.leftPaddlePlane() && ball.X+r > 0 && withinPaddle(ball.Y, frame.Player1Paddle.Y, rule):
		ball = deflect(ball, frame.Player1Paddle.Y, rule, 1)
		ball.X = rule.leftPaddlePlane() + r
	case ball.VX > 0 && ball.X+r >= rule.rightPaddlePlane() && ball.X-r < rule.fieldSize.Width && withinPaddle(ball.Y, frame.Player2Paddle.Y, rule):
		ball = deflect(ball, frame.Player2Paddle.Y, rule, -1)
		ball.X = rule.rightPaddlePlane() - r
	default:
		deflected = false
	}

	res := StepResult{Ball: ball}
	// a returned ball never scores on the same step.
	if deflected {
		return res
	}
	if ball.X-r <= 0 {
		res.Scorer = SidePlayer2
	} else if ball.X+r >= rule.fieldSize.Width {
		res.Scorer = SidePlayer1
	}
	return res
}

func withinPaddle(ballY, paddleY float64, rule Rule) bool {
	return math.Abs(ballY-paddleY) <= rule.paddleHalfHeight()
}

// deflect rebuilds the velocity from the hit offset so that |v| == rule.totalSpeed.
// dir is +1 for a ball leaving the left paddle and -1 for the right one.
func deflect(ball BallState, paddleY float64, rule Rule, dir float64) BallState {
	offset := (ball.Y - paddleY) / rule.paddleHalfHeight()
	offset = math.Max(-1, math.Min(1, offset))
	angle := offset * MaxBounceAngle

	ball.VX = dir * rule.totalSpeed * math.Cos(angle)
	ball.VY = rule.totalSpeed * math.Sin(angle)
	return ball
}

// ServeBall places the ball in the centre moving towards the given side.
func ServeBall(rule Rule, towards Side) BallState {
	x, y := rule.centre()
	vx := math.Abs(rule.initialBallSpeed.VX)
	if towards == SidePlayer1 {
		vx = -vx
	}
	return BallState{X: x, Y: y, VX: vx, VY: rule.initialBallSpeed.VY}
}

// InitialFrame is the frame of a freshly started match.
func InitialFrame(rule Rule) FrameState {
	_, y := rule.centre()
	ball := ServeBall(rule, SidePlayer2)
	if rule.initialBallSpeed.VX < 0 {
		ball = ServeBall(rule, SidePlayer1)
	}
	return FrameState{
		Ball:          ball,
		Player1Paddle: PaddleState{Y: y},
		Player2Paddle: PaddleState{Y: y},
	}
}

// ClampPaddle keeps a paddle centre inside the field.
func ClampPaddle(y float64, rule Rule) float64 {
	half := rule.paddleHalfHeight()
	return math.Max(half, math.Min(rule.fieldSize.Height-half, y))
}
