// Package entity loads the labeled-address list from CSV into storage.
package entity

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

var requiredColumns = []string{"address", "label", "entity_type"}

// LoadCSV reads the entities file and replaces the stored list wholesale,
// which also resets the derived analysis tables. A missing or empty file
// loads nothing and is not an error; a present file with missing columns is.
// Returns the number of entities loaded.
func LoadCSV(ctx context.Context, path string, store storage.EntityStore, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("entities file not found; skipping load", zap.String("path", path))
			return 0, nil
		}
		return 0, fmt.Errorf("open entities csv: %w", err)
	}
	defer f.Close()

	entities, err := parse(f)
	if err != nil {
		return 0, fmt.Errorf("parse entities csv %s: %w", path, err)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	if err := store.ReplaceAll(ctx, entities); err != nil {
		return 0, fmt.Errorf("replace entities: %w", err)
	}

	logger.Info("entities loaded; derived tables reset",
		zap.String("path", path),
		zap.Int("count", len(entities)))
	return len(entities), nil
}

func parse(f *os.File) ([]*domain.Entity, error) {
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var entities []*domain.Entity
	for _, rec := range records[1:] {
		address := strings.ToLower(strings.TrimSpace(rec[col["address"]]))
		if address == "" {
			continue
		}
		entities = append(entities, &domain.Entity{
			Address:    address,
			Label:      strings.TrimSpace(rec[col["label"]]),
			EntityType: strings.ToLower(strings.TrimSpace(rec[col["entity_type"]])),
		})
	}
	return entities, nil
}
