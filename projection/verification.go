/*
verification.go - Human disposition of expired projection snapshots

PURPOSE:
  The finite-state workflow over ExpiredProjection.verificationStatus.

STATES:
  pending   - initial; awaiting a decision
  verified  - terminal; the business confirmed the order is no longer needed
  cancelled - terminal; the forecast was explicitly cancelled
  restored  - terminal for this snapshot; the originating projection goes
              back to "unmatched" and rejoins the matching pool

Nothing is reachable from verified or cancelled. Correcting a finished
decision is an administrative process outside this engine.
*/
package projection

import (
	"context"
	"strings"
	"time"
)

// Verifier disposes of expired projection snapshots.
type Verifier struct {
	Store TxStore
	Now   func() time.Time
}

// NewVerifier creates a verifier with the given store.
func NewVerifier(store TxStore) *Verifier {
	return &Verifier{Store: store, Now: time.Now}
}

// Verify records a verified or cancelled disposition on a pending snapshot.
// A verified disposition also moves the originating projection to
// verified_unmatched; a cancelled one leaves it frozen at expired.
func (v *Verifier) Verify(ctx context.Context, expiredID string, status VerificationStatus, verifiedBy, notes string) (*ExpiredProjection, error) {
	if status != VerificationVerified && status != VerificationCancelled {
		return nil, &ValidationError{Field: "status", Message: "must be verified or cancelled"}
	}
	if strings.TrimSpace(verifiedBy) == "" {
		return nil, &ValidationError{Field: "verifiedBy", Message: "required"}
	}

	e, err := v.getExpired(ctx, expiredID)
	if err != nil {
		return nil, err
	}
	if e.VerificationStatus != VerificationPending {
		return nil, &TransitionError{Entity: "expired_projection", ID: e.ID, From: string(e.VerificationStatus), Attempt: "verify"}
	}

	now := v.Now()
	e.VerificationStatus = status
	e.VerifiedAt = &now
	e.VerifiedBy = verifiedBy
	e.VerificationNotes = notes

	err = v.Store.WithTx(ctx, func(store Store) error {
		if err := store.UpdateExpired(ctx, *e, VerificationPending); err != nil {
			return err
		}
		if status != VerificationVerified {
			return nil
		}
		p, err := store.GetProjection(ctx, e.OriginalProjectionID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "projection", ID: e.OriginalProjectionID}
		}
		p.Status = StatusVerifiedUnmatched
		p.UpdatedAt = now
		return store.UpdateProjection(ctx, *p, StatusExpired)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Restore reverses an expiration: the snapshot closes as restored and the
// originating projection re-enters the open pool with all match residue
// cleared.
func (v *Verifier) Restore(ctx context.Context, expiredID, restoredBy string) (*ExpiredProjection, error) {
	if strings.TrimSpace(restoredBy) == "" {
		return nil, &ValidationError{Field: "restoredBy", Message: "required"}
	}

	e, err := v.getExpired(ctx, expiredID)
	if err != nil {
		return nil, err
	}
	if e.VerificationStatus != VerificationPending {
		return nil, &TransitionError{Entity: "expired_projection", ID: e.ID, From: string(e.VerificationStatus), Attempt: "restore"}
	}

	now := v.Now()
	e.VerificationStatus = VerificationRestored
	e.VerifiedAt = &now
	e.RestoredBy = restoredBy

	err = v.Store.WithTx(ctx, func(store Store) error {
		p, err := store.GetProjection(ctx, e.OriginalProjectionID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "projection", ID: e.OriginalProjectionID}
		}
		p.ClearMatch()
		p.Status = StatusUnmatched
		p.RemovalReason = ""
		p.UpdatedAt = now
		if err := store.UpdateProjection(ctx, *p, StatusExpired); err != nil {
			return err
		}
		return store.UpdateExpired(ctx, *e, VerificationPending)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (v *Verifier) getExpired(ctx context.Context, id string) (*ExpiredProjection, error) {
	e, err := v.Store.GetExpired(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &NotFoundError{Entity: "expired_projection", ID: id}
	}
	return e, nil
}
