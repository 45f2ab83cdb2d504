package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/pong-arena/models"
	"github.com/nats-io/nats.go"
)

const DefaultResultsSubject = "pong.tournaments.finished"

var ErrNATSNotConfigured = errors.New("nats url is not configured")

// NATSPublisher announces finished tournaments on a NATS subject. The
// subject carries the tournament id as its last token so consumers can
// subscribe to one tournament or to all of them with a wildcard.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, ErrNATSNotConfigured
	}
	if subject == "" {
		subject = DefaultResultsSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("pong-arena"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("nats publisher connected", slog.String("subject", subject))
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject a result for tournamentID is published on.
func (p *NATSPublisher) Subject(tournamentID string) string {
	return p.subject + "." + tournamentID
}

func (p *NATSPublisher) Publish(ctx context.Context, result models.TournamentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode tournament result: %w", err)
	}
	if err := p.conn.Publish(p.Subject(result.TournamentID), data); err != nil {
		return fmt.Errorf("failed to publish tournament result: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush tournament result: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
