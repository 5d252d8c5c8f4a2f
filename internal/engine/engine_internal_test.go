package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"bayline/internal/config"
	"bayline/internal/db"
	"bayline/internal/domain"
	"bayline/internal/migrate"
)

// Two concurrent creates on the same identity key race on the UNIQUE
// index; the loser's insert error must be recognized so the upsert can
// retry on the edit path instead of surfacing a raw driver error.
func TestCreateRaceFallsBackToEdit(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("co-1"))
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := e.InitCompany(ctx, "co-1", "Test Garage", "tester"); err != nil {
		t.Fatalf("init company: %v", err)
	}
	bay, err := e.CreateBay(ctx, domain.Bay{CompanyID: "co-1", Name: "Bay 1"}, "tester")
	if err != nil {
		t.Fatalf("create bay: %v", err)
	}
	opts := WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "09:00",
		EndTime:     "10:00",
		ActorID:     "tester",
	}
	winner, created, err := e.UpsertWorkOrder(ctx, opts)
	if err != nil || !created {
		t.Fatalf("expected create, got created=%v err=%v", created, err)
	}

	// replay the loser: its resolve missed the row, so it goes down the
	// create path and hits the identity index
	now := e.now().UTC().Format(time.RFC3339)
	loser := opts
	loser.StartTime, loser.EndTime = "11:00", "12:00"
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, insertErr := e.createWorkOrder(ctx, tx, loser, now)
	tx.Rollback()
	if !identityConflict(insertErr) {
		t.Fatalf("expected identity conflict, got %v", insertErr)
	}
	if identityConflict(nil) || identityConflict(errors.New("disk I/O error")) {
		t.Fatalf("unrelated errors must not read as identity conflicts")
	}

	// the retry resolves the winner's record and edits it
	w, created, err := e.editResolved(ctx, loser, now)
	if err != nil {
		t.Fatalf("edit after lost race: %v", err)
	}
	if created || w.ID != winner.ID {
		t.Fatalf("expected edit of %s, got created=%v id=%s", winner.ID, created, w.ID)
	}
	if w.Bay == nil || w.Bay.StartTime != "11:00" {
		t.Fatalf("expected slot moved to 11:00, got %+v", w.Bay)
	}
}
