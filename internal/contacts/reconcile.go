package contacts

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

// ReconcileResult summarizes one Reconcile pass.
type ReconcileResult struct {
	Applied   int `json:"applied"`
	Refused   int `json:"refused"`
	Failed    int `json:"failed"`
	GivenUp   int `json:"given_up"`
	Remaining int `json:"remaining"`
}

// Reconcile replays queued offline changes in order. Temporary ids of
// created contacts are replaced by the ids the backend assigns. A change
// the backend refuses is dropped and reverted by the final refresh. The
// pass stops at the first change that fails for any other reason, since
// later changes may depend on it.
func (s *Store) Reconcile(ctx context.Context) (ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ReconcileResult
	pending, err := s.cache.ListPending(ctx)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	log := zap.L().With(zap.String("component", "contacts"))

	for i, p := range pending {
		err := s.replay(ctx, p)
		switch {
		case err == nil:
			res.Applied++
			if err := s.cache.DeletePending(ctx, p.ID); err != nil {
				return res, err
			}
		case refused(err):
			res.Refused++
			log.Warn("backend refused queued contact change",
				zap.String("op", string(p.Op)),
				zap.String("contact_id", p.Contact.ID),
				zap.Error(err),
			)
			if err := s.cache.DeletePending(ctx, p.ID); err != nil {
				return res, err
			}
			if p.Op == model.ContactOpCreate {
				if err := s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
					return without(list, p.Contact.ID)
				}); err != nil {
					return res, err
				}
			}
		default:
			p.RetryCount++
			p.LastError = err.Error()
			p.LastFailedAt = time.Now().UTC()
			if !p.CanRetry() {
				res.GivenUp++
				log.Error("giving up on queued contact change",
					zap.String("op", string(p.Op)),
					zap.String("contact_id", p.Contact.ID),
					zap.Int("retries", p.RetryCount),
					zap.Error(err),
				)
				if err := s.cache.DeletePending(ctx, p.ID); err != nil {
					return res, err
				}
				continue
			}
			res.Failed++
			res.Remaining = len(pending) - i
			if err := s.cache.UpdatePending(ctx, p); err != nil {
				return res, err
			}
			log.Info("contact reconciliation paused", zap.Int("remaining", res.Remaining), zap.Error(err))
			return res, nil
		}
	}

	if _, err := s.contacts(ctx); err != nil {
		return res, err
	}
	log.Info("contacts reconciled",
		zap.Int("applied", res.Applied),
		zap.Int("refused", res.Refused),
		zap.Int("given_up", res.GivenUp),
	)
	return res, nil
}

func (s *Store) replay(ctx context.Context, p model.PendingContactChange) error {
	var created *model.EmergencyContact
	err := s.session.Call(ctx, func(ctx context.Context, token string) error {
		switch p.Op {
		case model.ContactOpCreate:
			draft := p.Contact
			draft.ID = ""
			var err error
			created, err = s.backend.CreateContact(ctx, token, draft)
			return err
		case model.ContactOpUpdate:
			_, err := s.backend.UpdateContact(ctx, token, p.Contact)
			return err
		case model.ContactOpDelete:
			err := s.backend.DeleteContact(ctx, token, p.Contact.ID)
			var apiErr *api.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil
			}
			return err
		}
		return api.ValidationError("contacts: reconcile", "unknown op "+string(p.Op))
	})
	if err != nil || created == nil {
		return err
	}
	return s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
		return upsert(without(list, p.Contact.ID), *created)
	})
}
