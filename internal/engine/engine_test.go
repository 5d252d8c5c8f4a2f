package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bayline/internal/config"
	"bayline/internal/db"
	"bayline/internal/domain"
	"bayline/internal/engine"
	"bayline/internal/migrate"
	"bayline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Bay    domain.Bay
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("co-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitCompany(ctx, "co-1", "Test Garage", "tester"); err != nil {
		t.Fatalf("init company: %v", err)
	}
	bay, err := eng.CreateBay(ctx, domain.Bay{CompanyID: "co-1", Name: "Bay 1"}, "tester")
	if err != nil {
		t.Fatalf("create bay: %v", err)
	}
	if err := eng.AddBayMember(ctx, bay.ID, "mechanic", "tester"); err != nil {
		t.Fatalf("add bay member: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Bay: bay}
}

func (env testEnv) bayUpsert(t *testing.T, stock int64, field, start, end string) domain.WorkOrder {
	t.Helper()
	w, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: stock,
			FieldID:        field,
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   start,
		EndTime:     end,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("bay upsert: %v", err)
	}
	return w
}

func (env testEnv) seedSuppliers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := env.Engine.CreateSupplier(env.Ctx, domain.Supplier{
			ID:        id,
			CompanyID: "co-1",
			Name:      id,
		}, "tester"); err != nil {
			t.Fatalf("create supplier %s: %v", id, err)
		}
	}
}

func (env testEnv) supplierUpsert(t *testing.T, stock int64, field string, suppliers []string) domain.WorkOrder {
	t.Helper()
	w, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleTradein,
			CompanyID:      "co-1",
			VehicleStockID: stock,
			FieldID:        field,
		},
		Mode:              domain.ModeSupplier,
		SelectedSuppliers: suppliers,
		ActorID:           "tester",
	})
	if err != nil {
		t.Fatalf("supplier upsert: %v", err)
	}
	return w
}

func TestUpsertResolvesByIdentity(t *testing.T) {
	env := newTestEnv(t)
	first, created, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "09:00",
		EndTime:     "10:00",
		ActorID:     "tester",
	})
	if err != nil || !created {
		t.Fatalf("expected create, got created=%v err=%v", created, err)
	}
	second, created, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "11:00",
		EndTime:     "12:00",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("edit upsert: %v", err)
	}
	if created {
		t.Fatalf("expected edit of existing record")
	}
	if second.ID != first.ID {
		t.Fatalf("identity resolved to a different record: %s vs %s", second.ID, first.ID)
	}
	if second.Bay == nil || second.Bay.StartTime != "11:00" {
		t.Fatalf("expected slot moved to 11:00, got %+v", second.Bay)
	}
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM work_orders`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single work order, got %d", count)
	}
}

func TestSlotOverlap(t *testing.T) {
	env := newTestEnv(t)
	env.bayUpsert(t, 100, "paint", "09:00", "10:00")

	// back-to-back is not a conflict
	env.bayUpsert(t, 101, "paint", "10:00", "11:00")
	env.bayUpsert(t, 102, "paint", "08:00", "09:00")

	cases := []struct{ start, end string }{
		{"09:30", "10:30"}, // tail overlap
		{"08:30", "09:30"}, // head overlap
		{"08:30", "11:30"}, // containment
		{"09:00", "10:00"}, // exact duplicate
		{"09:15", "09:45"}, // contained inside
	}
	for _, tc := range cases {
		_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
			Identity: domain.Identity{
				VehicleType:    domain.VehicleInspection,
				CompanyID:      "co-1",
				VehicleStockID: 999,
				FieldID:        "body",
			},
			Mode:        domain.ModeBay,
			BayID:       env.Bay.ID,
			BookingDate: "2026-03-02",
			StartTime:   tc.start,
			EndTime:     tc.end,
			ActorID:     "tester",
		})
		var slotErr engine.SlotUnavailableError
		if !errors.As(err, &slotErr) {
			t.Fatalf("%s-%s: expected slot conflict, got %v", tc.start, tc.end, err)
		}
	}
}

func TestSlotRespectsBayHoursAndHolidays(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "07:00",
		EndTime:     "08:30",
		ActorID:     "tester",
	})
	if err == nil {
		t.Fatalf("expected slot outside bay hours to fail")
	}
	if err := env.Engine.AddBayHoliday(env.Ctx, domain.BayHoliday{
		BayID:  env.Bay.ID,
		Date:   "2026-03-03",
		Reason: "maintenance",
	}, "tester"); err != nil {
		t.Fatalf("add holiday: %v", err)
	}
	_, _, err = env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-03",
		StartTime:   "09:00",
		EndTime:     "10:00",
		ActorID:     "tester",
	})
	if err == nil {
		t.Fatalf("expected holiday booking to fail")
	}
}

func TestBookingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")

	w, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "mechanic")
	if err != nil || w.Status != "accepted" {
		t.Fatalf("accept: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.StartWork(env.Ctx, w.ID, "mechanic")
	if err != nil || w.Status != "in_progress" {
		t.Fatalf("start: status=%s err=%v", w.Status, err)
	}
	// draft save keeps the status
	w, err = env.Engine.SaveCommentSheet(env.Ctx, w.ID, `{"note":"half done"}`, false, "mechanic")
	if err != nil || w.Status != "in_progress" {
		t.Fatalf("draft save: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.SaveCommentSheet(env.Ctx, w.ID, `{"note":"done"}`, true, "mechanic")
	if err != nil || w.Status != "review" {
		t.Fatalf("submit: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.RequestRework(env.Ctx, w.ID, "redo panel", "tester")
	if err != nil || w.Status != "rework" {
		t.Fatalf("rework: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.ResumeWork(env.Ctx, w.ID, "mechanic")
	if err != nil || w.Status != "in_progress" {
		t.Fatalf("resume: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.SaveCommentSheet(env.Ctx, w.ID, `{"note":"fixed"}`, true, "mechanic")
	if err != nil || w.Status != "review" {
		t.Fatalf("resubmit: status=%s err=%v", w.Status, err)
	}
	w, err = env.Engine.CompleteWork(env.Ctx, w.ID, "tester")
	if err != nil || w.Status != "completed" {
		t.Fatalf("complete: status=%s err=%v", w.Status, err)
	}
	if w.WorkCompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
}

func TestInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	_, err := env.Engine.CompleteWork(env.Ctx, w.ID, "tester")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if invalid.From != "request" {
		t.Fatalf("expected from=request, got %s", invalid.From)
	}
	// starting without acceptance is also out of order
	_, err = env.Engine.StartWork(env.Ctx, w.ID, "mechanic")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition on start from request, got %v", err)
	}
}

func TestRejectReleasesSlotAndRebook(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	w, err := env.Engine.RejectBooking(env.Ctx, w.ID, "no capacity", "mechanic")
	if err != nil || w.Status != "rejected" {
		t.Fatalf("reject: status=%s err=%v", w.Status, err)
	}
	// rejected allocations no longer block the slot
	env.bayUpsert(t, 101, "paint", "09:00", "10:00")

	w, err = env.Engine.Rebook(env.Ctx, engine.RebookOptions{
		WorkOrderID: w.ID,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "13:00",
		EndTime:     "14:00",
		ActorID:     "tester",
	})
	if err != nil || w.Status != "request" {
		t.Fatalf("rebook: status=%s err=%v", w.Status, err)
	}
	if w.Bay == nil || w.Bay.StartTime != "13:00" {
		t.Fatalf("expected new slot on rebook, got %+v", w.Bay)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.RejectBooking(env.Ctx, w.ID, "", "mechanic"); err == nil {
		t.Fatalf("expected reason requirement")
	}
}

func TestEditLockedDuringExecution(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "11:00",
		EndTime:     "12:00",
		ActorID:     "tester",
	})
	var locked engine.LockedWorkOrderError
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if locked.Status != "in_progress" {
		t.Fatalf("expected in_progress lock, got %s", locked.Status)
	}
}

func TestSupplierApprovalExclusivity(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a", "sup-b")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a", "sup-b"})

	for _, s := range []string{"sup-a", "sup-b"} {
		if _, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
			WorkOrderID:   w.ID,
			SupplierID:    s,
			EstimatedCost: 45000,
			EstimatedTime: "3 days",
			ActorID:       s,
		}); err != nil {
			t.Fatalf("response %s: %v", s, err)
		}
	}

	w, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester")
	if err != nil || w.Status != "accepted" {
		t.Fatalf("approve: status=%s err=%v", w.Status, err)
	}
	if w.Supplier == nil || w.Supplier.ApprovedSupplier == nil || *w.Supplier.ApprovedSupplier != "sup-a" {
		t.Fatalf("expected sup-a approved, got %+v", w.Supplier)
	}

	responses, err := env.Engine.Repo.ListResponses(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	for _, resp := range responses {
		want := "rejected"
		if resp.SupplierID == "sup-a" {
			want = "approved"
		}
		if resp.Status != want {
			t.Fatalf("response %s: expected %s, got %s", resp.SupplierID, want, resp.Status)
		}
	}

	// same winner again is a no-op
	if _, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester"); err != nil {
		t.Fatalf("idempotent approve: %v", err)
	}
	// a different winner conflicts
	_, err = env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-b", "tester")
	var conflict engine.ApprovalConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected approval conflict, got %v", err)
	}
	if conflict.ApprovedSupplier != "sup-a" {
		t.Fatalf("expected settled winner sup-a, got %s", conflict.ApprovedSupplier)
	}
}

func TestApproveRequiresResponse(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	_, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester")
	if !errors.Is(err, engine.ErrNoResponse) {
		t.Fatalf("expected no-response error, got %v", err)
	}
}

func TestResponseRequiresInvite(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a", "sup-b")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	_, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-b",
		EstimatedCost: 1000,
		ActorID:       "sup-b",
	})
	var unknown engine.UnknownSupplierError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown supplier, got %v", err)
	}
}

func TestModeSwitchClearsFanOut(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	if _, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-a",
		EstimatedCost: 1000,
		ActorID:       "sup-a",
	}); err != nil {
		t.Fatal(err)
	}

	switched, created, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleTradein,
			CompanyID:      "co-1",
			VehicleStockID: 200,
			FieldID:        "engine",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "09:00",
		EndTime:     "10:00",
		ActorID:     "tester",
	})
	if err != nil || created {
		t.Fatalf("mode switch upsert: created=%v err=%v", created, err)
	}
	if switched.ID != w.ID {
		t.Fatalf("mode switch resolved to a different record")
	}
	if switched.Supplier != nil || switched.Bay == nil {
		t.Fatalf("expected bay field group only, got %+v", switched)
	}
	invited, err := env.Engine.Repo.InvitedSuppliers(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("invited: %v", err)
	}
	if len(invited) != 0 {
		t.Fatalf("expected invites cleared, got %v", invited)
	}
	responses, err := env.Engine.Repo.ListResponses(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("expected responses cleared, got %v", responses)
	}
}

func TestApprovedSupplierExecutes(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	if _, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-a",
		EstimatedCost: 1000,
		ActorID:       "sup-a",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester"); err != nil {
		t.Fatal(err)
	}
	// only the approved supplier may execute
	if _, err := env.Engine.StartWork(env.Ctx, w.ID, "someone-else"); err == nil {
		t.Fatalf("expected forbidden for non-winner")
	}
	w, err := env.Engine.StartWork(env.Ctx, w.ID, "sup-a")
	if err != nil || w.Status != "in_progress" {
		t.Fatalf("winner start: status=%s err=%v", w.Status, err)
	}
}

func TestTransitionEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "co-1", "", "workorder", w.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	actions := map[string]bool{}
	for _, evt := range events {
		actions[evt.Action] = true
	}
	for _, want := range []string{"workorder.created", "workorder.accept", "workorder.start"} {
		if !actions[want] {
			t.Fatalf("expected event %s, got %v", want, actions)
		}
	}
}

func TestAcceptRequiresBayMember(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "stranger"); err == nil {
		t.Fatalf("expected forbidden for non-member")
	}
}

func TestIdentityValidation(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    "lease",
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:    domain.ModeBay,
		BayID:   env.Bay.ID,
		ActorID: "tester",
	})
	if err == nil {
		t.Fatalf("expected vehicle_type rejection")
	}
	_, _, err = env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 0,
			FieldID:        "paint",
		},
		Mode:    domain.ModeBay,
		BayID:   env.Bay.ID,
		ActorID: "tester",
	})
	if err == nil {
		t.Fatalf("expected vehicle_stock_id rejection")
	}
}

func TestSupplierEditOnlyFromRequest(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a", "sup-b")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	if _, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-a",
		EstimatedCost: 1000,
		ActorID:       "sup-a",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester"); err != nil {
		t.Fatal(err)
	}
	// settled fan-out refuses a re-upsert in supplier mode
	_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleTradein,
			CompanyID:      "co-1",
			VehicleStockID: 200,
			FieldID:        "engine",
		},
		Mode:              domain.ModeSupplier,
		SelectedSuppliers: []string{"sup-b"},
		ActorID:           "tester",
	})
	var locked engine.LockedWorkOrderError
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked fan-out, got %v", err)
	}
	// late responses are refused too
	_, err = env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-a",
		EstimatedCost: 2000,
		ActorID:       "sup-a",
	})
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked response, got %v", err)
	}
}

func TestEditLockedAfterAccept(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	// an accepted allocation is not silently overwritten
	_, _, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleInspection,
			CompanyID:      "co-1",
			VehicleStockID: 100,
			FieldID:        "paint",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "11:00",
		EndTime:     "12:00",
		ActorID:     "tester",
	})
	var locked engine.LockedWorkOrderError
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if locked.Status != "accepted" {
		t.Fatalf("expected accepted lock, got %s", locked.Status)
	}
}

func TestModeSwitchDiscardsApproval(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})
	if _, err := env.Engine.RecordResponse(env.Ctx, engine.ResponseOptions{
		WorkOrderID:   w.ID,
		SupplierID:    "sup-a",
		EstimatedCost: 1000,
		ActorID:       "sup-a",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveSupplier(env.Ctx, w.ID, "sup-a", "tester"); err != nil {
		t.Fatal(err)
	}

	// approval is irreversible except by a full mode switch
	switched, created, err := env.Engine.UpsertWorkOrder(env.Ctx, engine.WorkOrderUpsertOptions{
		Identity: domain.Identity{
			VehicleType:    domain.VehicleTradein,
			CompanyID:      "co-1",
			VehicleStockID: 200,
			FieldID:        "engine",
		},
		Mode:        domain.ModeBay,
		BayID:       env.Bay.ID,
		BookingDate: "2026-03-02",
		StartTime:   "09:00",
		EndTime:     "10:00",
		ActorID:     "tester",
	})
	if err != nil || created {
		t.Fatalf("mode switch: created=%v err=%v", created, err)
	}
	if switched.Status != "request" || switched.Supplier != nil {
		t.Fatalf("expected fresh bay request, got status=%s supplier=%+v", switched.Status, switched.Supplier)
	}
	responses, err := env.Engine.Repo.ListResponses(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("expected responses discarded, got %v", responses)
	}
}

func TestSupplierRejectAndReinvite(t *testing.T) {
	env := newTestEnv(t)
	env.seedSuppliers(t, "sup-a", "sup-b")
	w := env.supplierUpsert(t, 200, "engine", []string{"sup-a"})

	if _, err := env.Engine.RejectBooking(env.Ctx, w.ID, "no capacity", "stranger"); err == nil {
		t.Fatalf("expected forbidden for non-invited actor")
	}
	w, err := env.Engine.RejectBooking(env.Ctx, w.ID, "no capacity", "sup-a")
	if err != nil || w.Status != "rejected" {
		t.Fatalf("supplier reject: status=%s err=%v", w.Status, err)
	}

	// inviting reopens the fan-out
	w, err = env.Engine.InviteSuppliers(env.Ctx, w.ID, []string{"sup-b"}, "tester")
	if err != nil || w.Status != "request" {
		t.Fatalf("reinvite: status=%s err=%v", w.Status, err)
	}
	invited, err := env.Engine.Repo.InvitedSuppliers(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("invited: %v", err)
	}
	if len(invited) != 2 {
		t.Fatalf("expected union of invites, got %v", invited)
	}
}

func TestBayMembershipRoster(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.AddBayMember(env.Ctx, env.Bay.ID, "helper", "tester"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	b, err := env.Engine.Repo.GetBay(env.Ctx, env.Bay.ID)
	if err != nil {
		t.Fatalf("get bay: %v", err)
	}
	members := map[string]bool{}
	for _, m := range b.Members {
		members[m] = true
	}
	if !members["helper"] || !members["mechanic"] {
		t.Fatalf("expected helper and mechanic on the roster, got %v", b.Members)
	}
	// the membership change and its event commit together
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "co-1", "bay.member.added", "bay", env.Bay.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 2 {
		t.Fatalf("expected member events for mechanic and helper, got %d", len(evts))
	}
	if err := env.Engine.RemoveBayMember(env.Ctx, env.Bay.ID, "helper", "tester"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	b, err = env.Engine.Repo.GetBay(env.Ctx, env.Bay.ID)
	if err != nil {
		t.Fatalf("get bay: %v", err)
	}
	for _, m := range b.Members {
		if m == "helper" {
			t.Fatalf("expected helper removed, got %v", b.Members)
		}
	}
}

func TestReworkRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	w := env.bayUpsert(t, 100, "paint", "09:00", "10:00")
	if _, err := env.Engine.AcceptBooking(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, w.ID, "mechanic"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveCommentSheet(env.Ctx, w.ID, `{"note":"done"}`, true, "mechanic"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RequestRework(env.Ctx, w.ID, "", "tester"); err == nil {
		t.Fatalf("expected empty feedback to be refused")
	}
	got, err := env.Engine.Repo.GetWorkOrder(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "review" {
		t.Fatalf("refused rework must not advance status, got %s", got.Status)
	}

	w, err = env.Engine.RequestRework(env.Ctx, w.ID, "repaint the left door", "tester")
	if err != nil || w.Status != "rework" {
		t.Fatalf("rework: status=%s err=%v", w.Status, err)
	}
	if w.CommentSheetJSON == nil {
		t.Fatalf("expected feedback recorded in the comment sheet")
	}
	var sheet map[string]any
	if err := json.Unmarshal([]byte(*w.CommentSheetJSON), &sheet); err != nil {
		t.Fatalf("sheet: %v", err)
	}
	if sheet["rework_reason"] != "repaint the left door" {
		t.Fatalf("expected rework reason in sheet, got %v", sheet)
	}
	if sheet["note"] != "done" {
		t.Fatalf("expected executor entries preserved, got %v", sheet)
	}
}

func TestCheckSlotHonorsBayClosures(t *testing.T) {
	env := newTestEnv(t)
	free, err := env.Engine.CheckSlot(env.Ctx, env.Bay.ID, "2026-03-02", "09:00", "10:00")
	if err != nil || !free {
		t.Fatalf("expected open slot, free=%v err=%v", free, err)
	}
	free, err = env.Engine.CheckSlot(env.Ctx, env.Bay.ID, "2026-03-02", "06:00", "07:00")
	if err != nil || free {
		t.Fatalf("expected out-of-hours slot unavailable, free=%v err=%v", free, err)
	}
	if err := env.Engine.AddBayHoliday(env.Ctx, domain.BayHoliday{
		BayID: env.Bay.ID,
		Date:  "2026-03-02",
	}, "tester"); err != nil {
		t.Fatalf("add holiday: %v", err)
	}
	free, err = env.Engine.CheckSlot(env.Ctx, env.Bay.ID, "2026-03-02", "09:00", "10:00")
	if err != nil || free {
		t.Fatalf("expected holiday unavailable, free=%v err=%v", free, err)
	}
	if err := env.Engine.RemoveBayHoliday(env.Ctx, env.Bay.ID, "2026-03-02", "tester"); err != nil {
		t.Fatalf("remove holiday: %v", err)
	}
	if err := env.Engine.SetBayActive(env.Ctx, env.Bay.ID, false, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	free, err = env.Engine.CheckSlot(env.Ctx, env.Bay.ID, "2026-03-02", "09:00", "10:00")
	if err != nil || free {
		t.Fatalf("expected inactive bay unavailable, free=%v err=%v", free, err)
	}
}

func TestResolveNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Repo.ResolveWorkOrder(env.Ctx, domain.Identity{
		VehicleType:    domain.VehicleInspection,
		CompanyID:      "co-1",
		VehicleStockID: 12345,
		FieldID:        "nope",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
