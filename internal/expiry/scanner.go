package expiry

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/metrics"
	"github.com/ukydev/fleetops/internal/models"
)

// DocumentLister is the part of the store the scanner reads.
type DocumentLister interface {
	FindDocuments(ctx context.Context, ownerKind models.OwnerKind, ownerID string) ([]models.Document, error)
}

// DocumentAlert is a document that is expired or due for renewal.
type DocumentAlert struct {
	Document models.Document `json:"document"`
	Alert
}

// ScanError is a document whose expiration date could not be read.
type ScanError struct {
	DocumentID string `json:"document_id"`
	Err        error  `json:"-"`
	Message    string `json:"message"`
}

// Report is the result of one scan.
type Report struct {
	At      time.Time       `json:"at"`
	Scanned int             `json:"scanned"`
	Alerts  []DocumentAlert `json:"alerts"`
	Errors  []ScanError     `json:"errors,omitempty"`
}

// Count returns how many alerts have level l.
func (r *Report) Count(l Level) int {
	n := 0
	for _, a := range r.Alerts {
		if a.Level == l {
			n++
		}
	}
	return n
}

// Scanner evaluates every stored document against the current day.
type Scanner struct {
	store    DocumentLister
	logger   log.FieldLogger
	location *time.Location

	Now func() time.Time
}

// NewScanner returns a scanner reading calendar days in loc (UTC when nil).
func NewScanner(store DocumentLister, logger log.FieldLogger, loc *time.Location) *Scanner {
	if loc == nil {
		loc = time.UTC
	}
	return &Scanner{store: store, logger: logger, location: loc, Now: time.Now}
}

// Scan lists vehicle and driver documents and returns the non-valide ones, soonest first.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	kinds := []models.OwnerKind{models.OwnerVehicule, models.OwnerChauffeur}
	lists := make([][]models.Document, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			docs, err := s.store.FindDocuments(gctx, kind, "")
			if err != nil {
				return err
			}
			lists[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	today := s.Now().In(s.location)
	report := &Report{At: today, Alerts: []DocumentAlert{}}
	for _, docs := range lists {
		for _, doc := range docs {
			report.Scanned++
			alert, err := Evaluate(doc.DateExpiration, today)
			if err != nil {
				report.Errors = append(report.Errors, ScanError{DocumentID: doc.ID.Hex(), Err: err, Message: err.Error()})
				continue
			}
			if alert.Level == LevelValide {
				continue
			}
			report.Alerts = append(report.Alerts, DocumentAlert{Document: doc, Alert: alert})
		}
	}
	sort.SliceStable(report.Alerts, func(i, j int) bool {
		return report.Alerts[i].JoursRestants < report.Alerts[j].JoursRestants
	})

	metrics.SetDocumentAlerts(string(LevelExpire), report.Count(LevelExpire))
	metrics.SetDocumentAlerts(string(LevelARenouveler), report.Count(LevelARenouveler))
	return report, nil
}

// Run scans every interval until ctx ends, handing each report to fn. Failed scans
// are logged and retried on the next tick.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, fn func(*Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.Scan(ctx)
		switch {
		case err == nil:
			s.logger.WithFields(log.Fields{
				"scanned":      report.Scanned,
				"expire":       report.Count(LevelExpire),
				"a_renouveler": report.Count(LevelARenouveler),
				"errors":       len(report.Errors),
			}).Info("Document scan completed")
			if fn != nil {
				fn(report)
			}
		case errors.Is(err, context.Canceled):
			return nil
		default:
			s.logger.WithError(err).WithField("transient", fleeterr.IsTransient(err)).Error("Document scan failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
