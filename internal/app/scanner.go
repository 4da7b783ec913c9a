package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Scanner feeds extracted card snapshots through a session. It is the
// module's stand-in for the page's DOM scan: the glue that walks rendered
// markup produces CardSnapshot JSON, and the scanner evaluates it.
type Scanner struct {
	Session *Session
	Logger  *slog.Logger
}

// ScanReport summarizes one batch evaluation. Verdicts maps identity
// keys to the settled verdict for each evaluated card.
type ScanReport struct {
	Allowed  []CardSnapshot
	Blocked  []CardSnapshot
	Skipped  int
	Verdicts map[string]Verdict
}

// LoadCards decodes a JSON array of card snapshots.
func LoadCards(r io.Reader) ([]CardSnapshot, error) {
	var cards []CardSnapshot
	if err := json.NewDecoder(r).Decode(&cards); err != nil {
		return nil, fmt.Errorf("decode card snapshots: %w", err)
	}
	return cards, nil
}

// ScanFile evaluates every card snapshot in a JSON file.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*ScanReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cards, err := LoadCards(f)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, cards)
}

// Scan evaluates a batch of cards through the session. It waits for
// metadata fetches triggered during the pass and re-checks the verdicts
// afterwards, so the report reflects settled decisions.
func (s *Scanner) Scan(ctx context.Context, cards []CardSnapshot) (*ScanReport, error) {
	_, _, skipped := s.Session.EvaluateBatch(ctx, cards)
	s.Session.WaitForMetadata()

	// Second pass picks up verdicts that changed when metadata landed.
	report := &ScanReport{Skipped: skipped, Verdicts: make(map[string]Verdict)}
	for _, card := range cards {
		verdict, ok := s.Session.Evaluate(ctx, card)
		if !ok {
			continue
		}
		report.Verdicts[card.Identity().Key()] = verdict
		if verdict.Hide {
			report.Blocked = append(report.Blocked, card)
		} else {
			report.Allowed = append(report.Allowed, card)
		}
	}
	if s.Logger != nil {
		s.Logger.Info("scan complete",
			"allowed", len(report.Allowed),
			"blocked", len(report.Blocked),
			"skipped", report.Skipped)
	}
	return report, nil
}
