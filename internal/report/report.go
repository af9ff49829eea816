package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/tender"
)

// Lookback window when resolving active ids against local snapshots.
const lookbackDays = 60

const dayLayout = "2006-01-02"

// SnapshotStore is the snapshot surface the report builder needs.
type SnapshotStore interface {
	FindTenders(ctx context.Context, ids []string, sinceDay string) (map[string]*tender.Tender, error)
}

// Payload is the document handed to the external report renderer: the
// resolvable active tenders ordered by id, plus the ids that no recent
// snapshot contains. A missing lookup is reported, never dropped.
type Payload struct {
	Client    string           `json:"client"`
	Generated string           `json:"generated"`
	// RunID ties the report to the screening run that last fed the
	// active set. Empty when the client has no recorded runs yet.
	RunID    string           `json:"run_id,omitempty"`
	Found    []*tender.Tender `json:"found"`
	NotFound []string         `json:"not_found"`
	Total    int              `json:"total_active"`
	Resolved int              `json:"resolved"`
}

type Builder struct {
	store  SnapshotStore
	logger *zap.Logger
}

func NewBuilder(store SnapshotStore, logger *zap.Logger) *Builder {
	return &Builder{store: store, logger: logger}
}

// Build resolves a client's active set against snapshots up to 60 days
// back and assembles the renderer payload.
func (b *Builder) Build(ctx context.Context, client string, activeIDs []string, now time.Time) (*Payload, error) {
	since := now.AddDate(0, 0, -lookbackDays).Format(dayLayout)

	found, err := b.store.FindTenders(ctx, activeIDs, since)
	if err != nil {
		return nil, fmt.Errorf("resolving active set: %w", err)
	}

	payload := &Payload{
		Client:    client,
		Generated: now.Format(time.RFC3339),
		Found:     make([]*tender.Tender, 0, len(found)),
		NotFound:  []string{},
		Total:     len(activeIDs),
		Resolved:  len(found),
	}

	for _, id := range activeIDs {
		if t, ok := found[id]; ok {
			payload.Found = append(payload.Found, t)
		} else {
			payload.NotFound = append(payload.NotFound, id)
		}
	}

	sort.Slice(payload.Found, func(i, j int) bool {
		return payload.Found[i].ID < payload.Found[j].ID
	})
	sort.Strings(payload.NotFound)

	b.logger.Info("report assembled",
		zap.String("client", client),
		zap.Int("active", payload.Total),
		zap.Int("found", payload.Resolved),
		zap.Int("not_found", len(payload.NotFound)),
	)

	return payload, nil
}

// Write stores the payload as a JSON artifact and returns its path.
func Write(payload *Payload, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("report_%s_%s.json",
		payload.Client, now.Format("20060102_150405")))

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	return path, nil
}
