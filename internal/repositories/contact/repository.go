// Package contact implements persistence for contact records and their
// primary/secondary link hierarchy.
package contact

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const contactColumns = "id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at"

// Repository handles contact persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new contact repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for health checks and transactional callers.
func (r *Repository) DB() database.DB {
	return r.db
}

// FindMatching returns all non-deleted contacts whose email equals the given
// email or whose phone number equals the given phone number, in creation
// order. A record matching on just one field is a hit.
func (r *Repository) FindMatching(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindMatching")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns)
	sb.From("contacts")

	fields := []string{}
	if email != nil {
		fields = append(fields, sb.Equal("email", *email))
	}
	if phoneNumber != nil {
		fields = append(fields, sb.Equal("phone_number", *phoneNumber))
	}
	if len(fields) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "either email or phone number is required")
	}

	sb.Where(
		sb.Or(fields...),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find matching contacts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find matching contacts")
	}

	return contacts, nil
}

// FindByIDs returns the non-deleted contacts with the given ids, ordered by
// created_at ascending with id as the tie-break.
func (r *Repository) FindByIDs(ctx context.Context, ids []int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns)
	sb.From("contacts")
	sb.Where(
		sb.In("id", idsToAny(ids)...),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find contacts by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find contacts")
	}

	return contacts, nil
}

// FindCluster returns the full cluster for a primary: the primary itself plus
// every non-deleted contact linked to it, in creation order.
func (r *Repository) FindCluster(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindCluster")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns)
	sb.From("contacts")
	sb.Where(
		sb.Or(
			sb.Equal("id", primaryID),
			sb.Equal("linked_id", primaryID),
		),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load contact cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load contact cluster")
	}

	return contacts, nil
}

// Create inserts a new contact and returns it with its assigned id and
// timestamps. LinkedID must be set iff the precedence is secondary.
func (r *Repository) Create(ctx context.Context, email, phoneNumber *string, precedence models.LinkPrecedence, linkedID *int64) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Create")
	defer span.End()

	now := time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("contacts")
	sb.Cols("phone_number", "email", "linked_id", "link_precedence", "created_at", "updated_at")
	sb.Values(phoneNumber, email, linkedID, string(precedence), now, now)
	sb.Returning(contactColumns)

	query, args := sb.Build()
	var created models.Contact
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&created); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_precedence": precedence}).Error("Failed to create contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create contact")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"contact_id":      created.ID,
		"link_precedence": created.LinkPrecedence,
	}).Debug("Created contact")
	return &created, nil
}

// MergeClusters collapses the clusters of the demoted primaries into the
// surviving primary's cluster. Two writes run in one read-committed
// transaction: the demoted primaries become secondaries of the survivor, and
// every secondary that pointed at a demoted primary is re-pointed at the
// survivor. Either both apply or neither does; no reader observes a
// half-merged hierarchy.
func (r *Repository) MergeClusters(ctx context.Context, survivorID int64, demotedIDs []int64) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.MergeClusters")
	defer span.End()

	if len(demotedIDs) == 0 {
		return nil
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"survivor_id": survivorID,
		"demoted_ids": demotedIDs,
	})

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin merge transaction")
	}
	// rollback with the outer ctx so an error path actually rolls back even
	// though ctxTx carries the open transaction
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	demote := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	demote.Update("contacts")
	demote.Set(
		demote.Assign("link_precedence", string(models.LinkPrecedenceSecondary)),
		demote.Assign("linked_id", survivorID),
		demote.Assign("updated_at", now),
	)
	demote.Where(
		demote.In("id", idsToAny(demotedIDs)...),
		demote.IsNull("deleted_at"),
	)

	query, args := demote.Build()
	if _, err := tx.ExecContext(ctxTx, query, args...); err != nil {
		log.WithError(err).Error("Failed to demote primaries")
		return mergeWriteError(err)
	}

	// deleted contacts keep their stale linked_id; they are frozen out of the graph
	relink := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	relink.Update("contacts")
	relink.Set(
		relink.Assign("linked_id", survivorID),
		relink.Assign("updated_at", now),
	)
	relink.Where(
		relink.In("linked_id", idsToAny(demotedIDs)...),
		relink.NotEqual("id", survivorID),
		relink.IsNull("deleted_at"),
	)

	query, args = relink.Build()
	if _, err := tx.ExecContext(ctxTx, query, args...); err != nil {
		log.WithError(err).Error("Failed to re-point secondaries")
		return mergeWriteError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit merge")
		return mergeWriteError(err)
	}

	log.Info("Merged contact clusters")
	return nil
}

// mergeWriteError maps store aborts (deadlock, serialization failure) to a
// conflict the caller can retry; everything else is an internal failure.
func mergeWriteError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return httperror.NewHTTPError(http.StatusConflict, "merge aborted by the store, retry the request")
		}
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge contact clusters")
}

func idsToAny(ids []int64) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
