//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
)

func TestTargetRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	repo := NewTargetRepo(testPool)
	ctx := context.Background()

	t.Run("should save and load targets", func(t *testing.T) {
		cleanup(t)

		target, err := model.NewUserTarget("tgt-1", "camp-1", 0, "@prospect", "")
		if err != nil {
			t.Fatalf("NewUserTarget: %v", err)
		}
		if err := repo.Save(ctx, nil, target); err != nil {
			t.Fatalf("Save: %v", err)
		}

		found, err := repo.FindByID(ctx, nil, "tgt-1")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if found.Username != "prospect" || found.Status != model.TargetStatusPending {
			t.Errorf("loaded target mismatch: %+v", found)
		}
	})

	t.Run("should page pending targets per campaign", func(t *testing.T) {
		cleanup(t)

		for _, tc := range []struct {
			id, camp string
			status   model.TargetStatus
		}{
			{"tgt-1", "camp-1", model.TargetStatusPending},
			{"tgt-2", "camp-1", model.TargetStatusPending},
			{"tgt-3", "camp-1", model.TargetStatusContacted},
			{"tgt-4", "camp-2", model.TargetStatusPending},
		} {
			target, _ := model.NewUserTarget(tc.id, tc.camp, 1, "", "")
			target.Status = tc.status
			if err := repo.Save(ctx, nil, target); err != nil {
				t.Fatalf("Save %s: %v", tc.id, err)
			}
		}

		got, err := repo.FindPending(ctx, nil, "camp-1", 10)
		if err != nil {
			t.Fatalf("FindPending: %v", err)
		}
		if len(got) != 2 || got[0].ID != "tgt-1" || got[1].ID != "tgt-2" {
			t.Fatalf("pending = %+v, want [tgt-1 tgt-2]", got)
		}

		limited, err := repo.FindPending(ctx, nil, "camp-1", 1)
		if err != nil {
			t.Fatalf("FindPending limited: %v", err)
		}
		if len(limited) != 1 {
			t.Fatalf("limit ignored: %+v", limited)
		}
	})

	t.Run("should update status with fail reason", func(t *testing.T) {
		cleanup(t)

		target, _ := model.NewUserTarget("tgt-1", "camp-1", 1, "", "")
		if err := repo.Save(ctx, nil, target); err != nil {
			t.Fatalf("Save: %v", err)
		}

		if err := repo.UpdateStatus(ctx, nil, "tgt-1", model.TargetStatusFailed, "privacy_restricted"); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		found, _ := repo.FindByID(ctx, nil, "tgt-1")
		if found.Status != model.TargetStatusFailed || found.FailReason != "privacy_restricted" {
			t.Errorf("status not updated: %+v", found)
		}

		err := repo.UpdateStatus(ctx, nil, "missing", model.TargetStatusSkipped, "")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
