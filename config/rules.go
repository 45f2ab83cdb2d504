package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dosada05/pong-arena/game"
	"gopkg.in/yaml.v3"
)

// RulesConfig mirrors the YAML rule file. Zero values fall back to the
// stock table.
type RulesConfig struct {
	PointToWin       int             `yaml:"point_to_win"`
	InitialBallSpeed game.Velocity   `yaml:"initial_ball_speed"`
	FieldSize        game.FieldSize  `yaml:"field_size"`
	Paddle           game.PaddleSize `yaml:"paddle"`
	BallRadius       float64         `yaml:"ball_radius"`
}

// LoadRules reads a rule file. An empty path yields the default rule.
func LoadRules(path string) (game.Rule, error) {
	if path == "" {
		return game.NewRule(game.DefaultRuleParams())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return game.Rule{}, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (game.Rule, error) {
	var rc RulesConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		return game.Rule{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	return game.NewRule(rc.params())
}

func (rc RulesConfig) params() game.RuleParams {
	p := game.DefaultRuleParams()
	if rc.PointToWin != 0 {
		p.PointToWin = rc.PointToWin
	}
	if rc.InitialBallSpeed != (game.Velocity{}) {
		p.InitialBallSpeed = rc.InitialBallSpeed
	}
	if rc.FieldSize.Width != 0 {
		p.FieldSize.Width = rc.FieldSize.Width
	}
	if rc.FieldSize.Height != 0 {
		p.FieldSize.Height = rc.FieldSize.Height
	}
	if rc.Paddle.Width != 0 {
		p.Paddle.Width = rc.Paddle.Width
	}
	if rc.Paddle.Height != 0 {
		p.Paddle.Height = rc.Paddle.Height
	}
	if rc.BallRadius != 0 {
		p.BallRadius = rc.BallRadius
	}
	return p
}
