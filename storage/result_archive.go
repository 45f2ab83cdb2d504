package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dosada05/pong-arena/models"
)

// ResultArchive writes finished tournament results as JSON objects through a
// FileUploader.
type ResultArchive struct {
	uploader FileUploader
	prefix   string
}

func NewResultArchive(uploader FileUploader) *ResultArchive {
	return &ResultArchive{uploader: uploader, prefix: "results/tournaments/"}
}

func (a *ResultArchive) Name() string {
	return "r2-archive"
}

func (a *ResultArchive) Key(tournamentID string) string {
	return a.prefix + tournamentID + ".json"
}

func (a *ResultArchive) Publish(ctx context.Context, result models.TournamentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result of tournament %s: %w", result.TournamentID, err)
	}
	if _, err := a.uploader.Upload(ctx, a.Key(result.TournamentID), "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("failed to archive result of tournament %s: %w", result.TournamentID, err)
	}
	return nil
}
