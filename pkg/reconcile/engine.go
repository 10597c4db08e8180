// Package reconcile implements the contact reconciliation pipeline: match
// stored contacts against an incoming email/phone pair, resolve the primaries
// they belong to, collapse multiple primaries into one, extend the cluster
// with new info, and compose the consolidated view.
package reconcile

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Store is the narrow persistence surface the engine runs on. All reads
// return non-deleted contacts in creation order (created_at ascending, id as
// the tie-break).
type Store interface {
	// FindMatching returns every contact whose email or phone number equals
	// the given values (logical OR).
	FindMatching(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error)
	FindByIDs(ctx context.Context, ids []int64) ([]models.Contact, error)
	// FindCluster returns the primary plus every contact linked to it.
	FindCluster(ctx context.Context, primaryID int64) ([]models.Contact, error)
	Create(ctx context.Context, email, phoneNumber *string, precedence models.LinkPrecedence, linkedID *int64) (*models.Contact, error)
	// MergeClusters applies the demote and relink writes as one atomic unit.
	MergeClusters(ctx context.Context, survivorID int64, demotedIDs []int64) error
}

// Outcome describes what an identify request did to the store.
type Outcome string

const (
	OutcomeCreatedPrimary Outcome = "created_primary"
	OutcomeMerged         Outcome = "merged"
	OutcomeExtended       Outcome = "extended"
	OutcomeNoChange       Outcome = "no_change"
)

// Engine runs the reconciliation pipeline. It holds no mutable state; every
// request is an independent unit of work against the store.
type Engine struct {
	logger ectologger.Logger
	store  Store
}

// NewEngine creates a new reconciliation engine.
func NewEngine(logger ectologger.Logger, store Store) *Engine {
	return &Engine{
		logger: logger,
		store:  store,
	}
}

// Identify resolves or grows the cluster the given contact info belongs to
// and returns the consolidated view. At least one of email/phoneNumber must
// be non-nil; the transport layer validates that before calling.
//
// The match read and any create that follows are not one transaction: two
// concurrent requests carrying overlapping new info can both create a row.
// The duplicate collapses into the cluster on the next request that bridges
// the two (see MergeClusters). Only the merge itself is atomic.
func (e *Engine) Identify(ctx context.Context, email, phoneNumber *string) (*models.ConsolidatedContact, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.Identify")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.IdentifyDuration.Observe(time.Since(start).Seconds())
	}()

	if email == nil && phoneNumber == nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "either email or phoneNumber is required")
	}

	log := e.logger.WithContext(ctx)

	candidates, err := e.store.FindMatching(ctx, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	roots := resolveRoots(candidates)

	// No existing identity: the new primary embodies the incoming info, so
	// the extend step is skipped.
	if len(roots) == 0 {
		primary, err := e.store.Create(ctx, email, phoneNumber, models.LinkPrecedencePrimary, nil)
		if err != nil {
			return nil, err
		}

		log.WithFields(map[string]any{"primary_id": primary.ID}).Info("Created new primary contact")
		e.recordOutcome(OutcomeCreatedPrimary, 1)
		return Compose([]models.Contact{*primary}), nil
	}

	survivorID := roots[0]
	merged := false
	if len(roots) > 1 {
		survivorID, err = e.merge(ctx, roots)
		if err != nil {
			return nil, err
		}
		merged = true
	}

	cluster, err := e.store.FindCluster(ctx, survivorID)
	if err != nil {
		return nil, err
	}
	if len(cluster) == 0 {
		log.WithFields(map[string]any{"primary_id": survivorID}).Error("Resolved primary has no cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "contact cluster not found")
	}

	extended := false
	cluster, extended, err = e.extend(ctx, cluster, survivorID, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeNoChange
	switch {
	case merged:
		outcome = OutcomeMerged
	case extended:
		outcome = OutcomeExtended
	}
	e.recordOutcome(outcome, len(cluster))

	log.WithFields(map[string]any{
		"primary_id":   survivorID,
		"cluster_size": len(cluster),
		"outcome":      outcome,
	}).Debug("Reconciled contact")

	return Compose(cluster), nil
}

// View returns the consolidated view for any member of a cluster without
// mutating anything.
func (e *Engine) View(ctx context.Context, contactID int64) (*models.ConsolidatedContact, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.View")
	defer span.End()

	contacts, err := e.store.FindByIDs(ctx, []int64{contactID})
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "contact not found")
	}

	cluster, err := e.store.FindCluster(ctx, contacts[0].Root())
	if err != nil {
		return nil, err
	}
	if len(cluster) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "contact cluster not found")
	}

	return Compose(cluster), nil
}

// merge collapses the clusters behind the given roots into the one owned by
// the oldest primary and returns the survivor's id.
func (e *Engine) merge(ctx context.Context, roots []int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.merge")
	defer span.End()

	primaries, err := e.store.FindByIDs(ctx, roots)
	if err != nil {
		return 0, err
	}
	if len(primaries) == 0 {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "resolved primaries not found")
	}

	survivor := primaries[0]
	for _, p := range primaries[1:] {
		survivor = olderOf(survivor, p)
	}

	demotedIDs := make([]int64, 0, len(primaries)-1)
	for _, p := range primaries {
		if p.ID != survivor.ID {
			demotedIDs = append(demotedIDs, p.ID)
		}
	}

	if len(demotedIDs) > 0 {
		if err := e.store.MergeClusters(ctx, survivor.ID, demotedIDs); err != nil {
			return 0, err
		}
		metrics.ClusterMergesTotal.Inc()

		e.logger.WithContext(ctx).WithFields(map[string]any{
			"survivor_id": survivor.ID,
			"demoted_ids": demotedIDs,
		}).Info("Merged contact clusters")
	}

	return survivor.ID, nil
}

// extend creates one new secondary when the incoming request carries an email
// or phone the cluster does not know yet. The new row stores both supplied
// fields, even when only one of them is new.
func (e *Engine) extend(ctx context.Context, cluster []models.Contact, primaryID int64, email, phoneNumber *string) ([]models.Contact, bool, error) {
	missingEmail := email != nil && !clusterHasEmail(cluster, *email)
	missingPhone := phoneNumber != nil && !clusterHasPhone(cluster, *phoneNumber)
	if !missingEmail && !missingPhone {
		return cluster, false, nil
	}

	secondary, err := e.store.Create(ctx, email, phoneNumber, models.LinkPrecedenceSecondary, &primaryID)
	if err != nil {
		return nil, false, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":   primaryID,
		"secondary_id": secondary.ID,
	}).Info("Extended contact cluster")

	return append(cluster, *secondary), true, nil
}

func (e *Engine) recordOutcome(outcome Outcome, clusterSize int) {
	metrics.IdentifyRequestsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ClusterSize.Observe(float64(clusterSize))
}

// resolveRoots returns the distinct primary ids the candidates resolve to, in
// first-seen order. Candidates arrive in creation order, so the first root is
// the one owned by the oldest matching contact.
func resolveRoots(candidates []models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(candidates))
	roots := make([]int64, 0, 2)
	for i := range candidates {
		root := candidates[i].Root()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	return roots
}

// olderOf returns the senior of two contacts: earlier created_at wins, with
// the smaller id breaking ties.
func olderOf(a, b models.Contact) models.Contact {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b
	}
	if a.ID <= b.ID {
		return a
	}
	return b
}

func clusterHasEmail(cluster []models.Contact, email string) bool {
	for i := range cluster {
		if cluster[i].Email != nil && *cluster[i].Email == email {
			return true
		}
	}
	return false
}

func clusterHasPhone(cluster []models.Contact, phoneNumber string) bool {
	for i := range cluster {
		if cluster[i].PhoneNumber != nil && *cluster[i].PhoneNumber == phoneNumber {
			return true
		}
	}
	return false
}
