package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/hostfolio/propops_backend/workflow"
)

func stayDate(day int) time.Time {
	return time.Date(2026, 4, day, 0, 0, 0, 0, time.UTC)
}

func makeRow(guest, property, source, code, status string, checkInDay, checkOutDay int) workflow.NormalizedRow {
	return workflow.NormalizedRow{
		GuestName:      guest,
		PropertyLabel:  property,
		SourceRaw:      source,
		ExternalCode:   code,
		ExternalStatus: status,
		CheckIn:        stayDate(checkInDay),
		CheckOut:       stayDate(checkOutDay),
	}
}

func setupIntegrationDB(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.ConnectDatabaseWithRetry.
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "propops_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, "biz-regression")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "ops@example.com")
	ctx = utils.SetIsSuperuserInContext(ctx, true)
	return ctx
}

func TestBookingImportReconciliationEndToEnd(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()

	// Pass 1: two fresh rows plus an exact in-file duplicate of the first.
	pass1 := &workflow.ImportInput{
		FileName: "schedule-week15.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Laura Chen", "Seaside Villa", "Airbnb", "HMDNHY93WB", "Confirmed", 10, 14),
			makeRow("Bob Marsh", "Seaside Villa", "Direct", "DIR001", "Confirmed", 20, 23),
			makeRow("Laura Chen", "Seaside Villa", "Airbnb", "HMDNHY93WB", "Confirmed", 10, 14),
		},
	}
	summary, err := workflow.RunBookingImport(ctx, pass1)
	if err != nil {
		t.Fatalf("pass 1: %v", err)
	}
	if summary.SuccessfulImports != 2 || summary.AutoUpdated != 0 || summary.ConflictsDetected != 0 {
		t.Fatalf("pass 1 summary: %+v", summary)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("pass 1 errors: %v", summary.Errors)
	}

	seaside, err := models.FindPropertyByLabel(ctx, "Seaside Villa")
	if err != nil {
		t.Fatalf("property lookup: %v", err)
	}
	bookings, err := models.ListPropertyBookings(ctx, seaside.ID)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 2 {
		t.Fatalf("pass 1 created %d bookings, want 2", len(bookings))
	}

	// Pass 2: the identical file again. Nothing may change.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-week15.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Laura Chen", "Seaside Villa", "Airbnb", "HMDNHY93WB", "Confirmed", 10, 14),
			makeRow("Bob Marsh", "Seaside Villa", "Direct", "DIR001", "Confirmed", 20, 23),
		},
	})
	if err != nil {
		t.Fatalf("pass 2: %v", err)
	}
	if summary.SuccessfulImports != 0 || summary.AutoUpdated != 0 || summary.ConflictsDetected != 0 {
		t.Fatalf("re-import was not idempotent: %+v", summary)
	}
	bookings, _ = models.ListPropertyBookings(ctx, seaside.ID)
	if len(bookings) != 2 {
		t.Fatalf("re-import changed booking count to %d", len(bookings))
	}

	// Pass 3: platform status moved to "Checking out today". This is the one
	// change applied without review.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-week15b.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Laura Chen", "Seaside Villa", "Airbnb", "HMDNHY93WB", "Checking out today", 10, 14),
		},
	})
	if err != nil {
		t.Fatalf("pass 3: %v", err)
	}
	if summary.AutoUpdated != 1 || summary.ConflictsDetected != 0 || summary.SuccessfulImports != 0 {
		t.Fatalf("status auto-resolve summary: %+v", summary)
	}
	updated, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMDNHY93WB")
	if err != nil {
		t.Fatalf("fetch auto-updated booking: %v", err)
	}
	if updated.ExternalStatus != "Checking out today" || updated.Status != models.BookingStatusCurrentlyHosting {
		t.Fatalf("auto-resolve did not apply: status=%s external=%q", updated.Status, updated.ExternalStatus)
	}
	if updated.LastImportUpdate == nil {
		t.Fatalf("auto-resolve did not stamp last_import_update")
	}
	entries, err := models.ListAuditEntries(ctx, "Booking", updated.ID)
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected create + update audit entries, got %d", len(entries))
	}

	// Pass 4: the same status change on a Direct booking must escalate, and
	// the booking stays untouched.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-week15c.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Bob Marsh", "Seaside Villa", "Direct", "DIR001", "Cancelled", 20, 23),
		},
	})
	if err != nil {
		t.Fatalf("pass 4: %v", err)
	}
	if summary.ConflictsDetected != 1 || summary.AutoUpdated != 0 || !summary.RequiresReview {
		t.Fatalf("direct-source guard summary: %+v", summary)
	}
	types := summary.Conflicts[0]["conflict_types"].([]string)
	if len(types) != 1 || types[0] != "status_change" {
		t.Fatalf("direct-source conflict types = %v", types)
	}
	direct, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceDirect, "DIR001")
	if err != nil {
		t.Fatalf("fetch direct booking: %v", err)
	}
	if direct.ExternalStatus != "Confirmed" || direct.Status != models.BookingStatusConfirmed {
		t.Fatalf("direct booking mutated without review: %+v", direct)
	}

	// Pass 5: a guest-name edit always escalates, with its classification in
	// the changes summary.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-week15d.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Lara Chen", "Seaside Villa", "Airbnb", "HMDNHY93WB", "Checking out today", 10, 14),
		},
	})
	if err != nil {
		t.Fatalf("pass 5: %v", err)
	}
	if summary.ConflictsDetected != 1 || summary.AutoUpdated != 0 {
		t.Fatalf("guest change summary: %+v", summary)
	}
	changes := summary.Conflicts[0]["changes_summary"].(map[string]any)
	guest, ok := changes["guest"].(map[string]any)
	if !ok || guest["change_type"] != "minor_correction" {
		t.Fatalf("guest change classification = %v", changes["guest"])
	}
	unchanged, _ := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMDNHY93WB")
	if unchanged.GuestName != "Laura Chen" {
		t.Fatalf("guest name mutated without review: %q", unchanged.GuestName)
	}

	// The same raw code under another property is not a collision.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-week15e.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Nick Diaz", "Mountain Cabin", "Airbnb", "HMDNHY93WB", "Confirmed", 1, 3),
		},
	})
	if err != nil {
		t.Fatalf("cross-property pass: %v", err)
	}
	if summary.SuccessfulImports != 1 || summary.ConflictsDetected != 0 {
		t.Fatalf("cross-property summary: %+v", summary)
	}
	cabin, err := models.FindPropertyByLabel(ctx, "Mountain Cabin")
	if err != nil {
		t.Fatalf("cabin lookup: %v", err)
	}
	if _, err := models.FindBookingByScopedCode(ctx, db, cabin.ID, models.BookingSourceAirbnb, "HMDNHY93WB"); err != nil {
		t.Fatalf("cross-property booking missing: %v", err)
	}

	// Allocation: a taken code in the same scope gets the " #2" suffix, the
	// same code under another source does not, and an empty proposal gets a
	// synthesized channel-prefixed code.
	code, err := workflow.AllocateBookingCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMDNHY93WB")
	if err != nil {
		t.Fatalf("allocate taken code: %v", err)
	}
	if code != "HMDNHY93WB #2" {
		t.Fatalf("allocated %q, want \"HMDNHY93WB #2\"", code)
	}
	code, err = workflow.AllocateBookingCode(ctx, db, seaside.ID, models.BookingSourceVrbo, "HMDNHY93WB")
	if err != nil {
		t.Fatalf("allocate cross-source code: %v", err)
	}
	if code != "HMDNHY93WB" {
		t.Fatalf("cross-source allocation mangled the code: %q", code)
	}
	code, err = workflow.AllocateBookingCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "")
	if err != nil {
		t.Fatalf("synthesize code: %v", err)
	}
	if !strings.HasPrefix(code, "HM") || len(code) < 8 {
		t.Fatalf("synthesized code %q lacks the channel prefix", code)
	}
}

func TestConflictResolutionApplyAndStaleGuard(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()

	// Seed two bookings, then a pass that raises one guest conflict and one
	// direct-source status conflict.
	seed := &workflow.ImportInput{
		FileName: "schedule-seed.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Kathrin MÃ¼ller", "Seaside Villa", "Airbnb", "HMZE8BT5AC", "Confirmed", 10, 14),
			makeRow("Bob Marsh", "Seaside Villa", "Direct", "DIR001", "Confirmed", 20, 23),
		},
	}
	if _, err := workflow.RunBookingImport(ctx, seed); err != nil {
		t.Fatalf("seed pass: %v", err)
	}

	summary, err := workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-review.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Kathrin Muller", "Seaside Villa", "Airbnb", "HMZE8BT5AC", "Confirmed", 10, 14),
			makeRow("Bob Marsh", "Seaside Villa", "Direct", "DIR001", "Cancelled", 20, 23),
		},
	})
	if err != nil {
		t.Fatalf("review pass: %v", err)
	}
	if summary.ConflictsDetected != 2 {
		t.Fatalf("review pass conflicts = %d, want 2", summary.ConflictsDetected)
	}

	// Conflicts are stored highest confidence first: the full-agreement
	// direct status conflict (1.0) before the guest conflict, whose mojibake
	// old name costs the guest score component.
	session, err := models.GetImportSession(ctx, summary.SessionId)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	stored, err := session.ExtractConflicts()
	if err != nil {
		t.Fatalf("extract conflicts: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d conflicts, want 2", len(stored))
	}
	if types := stored[0]["conflict_types"].([]any); types[0] != "status_change" {
		t.Fatalf("conflict 0 types = %v, want the status conflict first", types)
	}
	guestChange := stored[1]["changes_summary"].(map[string]any)["guest"].(map[string]any)
	if guestChange["change_type"] != "encoding_correction" {
		t.Fatalf("guest change_type = %v", guestChange["change_type"])
	}

	// Apply: fix the mojibake name, keep the direct booking but materialize
	// the incoming row as its own record, and skip nothing.
	result, err := workflow.ResolveImportConflicts(ctx, summary.SessionId, []workflow.ResolutionDecision{
		{ConflictIndex: 1, Action: models.ResolutionActionUpdateExisting, FieldsToApply: []string{"guest_name"}},
		{ConflictIndex: 0, Action: models.ResolutionActionCreateNew},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Updated != 1 || result.Created != 1 || len(result.Errors) != 0 {
		t.Fatalf("resolution result: %+v", result)
	}

	seaside, _ := models.FindPropertyByLabel(ctx, "Seaside Villa")
	fixed, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMZE8BT5AC")
	if err != nil {
		t.Fatalf("fetch fixed booking: %v", err)
	}
	if fixed.GuestName != "Kathrin Muller" {
		t.Fatalf("guest name after resolution = %q", fixed.GuestName)
	}
	entries, err := models.ListAuditEntries(ctx, "Booking", fixed.ID)
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	var sawUpdate bool
	for _, e := range entries {
		if e.Action == models.AuditActionUpdate {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatalf("resolution left no update audit entry")
	}

	// Direct/Owner bookings created out of a review carry a visible suffix.
	if _, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceDirect, "DIR001 (manual)"); err != nil {
		t.Fatalf("manual duplicate booking missing: %v", err)
	}

	// The stored block now carries a resolved marker on both conflicts.
	session, err = models.GetImportSession(ctx, summary.SessionId)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	stored, err = session.ExtractConflicts()
	if err != nil {
		t.Fatalf("re-extract conflicts: %v", err)
	}
	for i, c := range stored {
		if resolved, _ := c["resolved"].(bool); !resolved {
			t.Fatalf("conflict %d not stamped resolved after its decision", i)
		}
	}

	// Applied decisions are stamped resolved in the session, so replaying them
	// is rejected outright. In particular a replayed create_new must not mint
	// a second manual duplicate.
	result, err = workflow.ResolveImportConflicts(ctx, summary.SessionId, []workflow.ResolutionDecision{
		{ConflictIndex: 1, Action: models.ResolutionActionUpdateExisting, FieldsToApply: []string{"guest_name"}},
		{ConflictIndex: 0, Action: models.ResolutionActionCreateNew},
		{ConflictIndex: 5, Action: models.ResolutionActionSkip},
	})
	if err != nil {
		t.Fatalf("replay resolve: %v", err)
	}
	if result.Updated != 0 || result.Created != 0 || result.Skipped != 0 {
		t.Fatalf("replay result: %+v", result)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("replay errors = %v, want two already-resolved + out-of-range", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "already resolved") || !strings.Contains(result.Errors[1], "already resolved") {
		t.Fatalf("replayed decisions were not rejected as resolved: %v", result.Errors)
	}
	if !strings.Contains(result.Errors[2], "out of range") {
		t.Fatalf("out-of-range decision error missing: %v", result.Errors)
	}
	if _, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceDirect, "DIR001 (manual) #2"); err == nil {
		t.Fatalf("replayed create_new minted a second manual duplicate booking")
	}
	if fixed, _ = models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMZE8BT5AC"); fixed.GuestName != "Kathrin Muller" {
		t.Fatalf("replay mutated the booking: %q", fixed.GuestName)
	}

	// Stale guard: raise a fresh guest conflict, then change the booking before
	// the reviewer gets to it. The recorded old value no longer holds, so the
	// decision must not win.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-review2.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Katherine Muller", "Seaside Villa", "Airbnb", "HMZE8BT5AC", "Confirmed", 10, 14),
		},
	})
	if err != nil {
		t.Fatalf("second review pass: %v", err)
	}
	if summary.ConflictsDetected != 1 {
		t.Fatalf("second review pass conflicts = %d, want 1", summary.ConflictsDetected)
	}
	if err := db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", fixed.ID).Update("guest_name", "Kathrin Mueller").Error; err != nil {
		t.Fatalf("mutate booking behind the session: %v", err)
	}
	result, err = workflow.ResolveImportConflicts(ctx, summary.SessionId, []workflow.ResolutionDecision{
		{ConflictIndex: 0, Action: models.ResolutionActionUpdateExisting, FieldsToApply: []string{"guest_name"}},
	})
	if err != nil {
		t.Fatalf("stale resolve: %v", err)
	}
	if result.Updated != 0 || len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "changed since detection") {
		t.Fatalf("stale guard did not fire: %+v", result)
	}
	if b, _ := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMZE8BT5AC"); b.GuestName != "Kathrin Mueller" {
		t.Fatalf("stale decision mutated the booking: %q", b.GuestName)
	}

	// A property_change conflict resolves via update_existing by moving the
	// booking to the incoming row's property.
	summary, err = workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-moved.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Kathrin Mueller", "Garden Cottage", "Airbnb", "HMZE8BT5AC", "Confirmed", 10, 14),
		},
	})
	if err != nil {
		t.Fatalf("property move pass: %v", err)
	}
	if summary.ConflictsDetected != 1 {
		t.Fatalf("property move conflicts = %d, want 1", summary.ConflictsDetected)
	}
	if types := summary.Conflicts[0]["conflict_types"].([]string); len(types) != 1 || types[0] != "property_change" {
		t.Fatalf("property move conflict types = %v", types)
	}
	result, err = workflow.ResolveImportConflicts(ctx, summary.SessionId, []workflow.ResolutionDecision{
		{ConflictIndex: 0, Action: models.ResolutionActionUpdateExisting},
	})
	if err != nil {
		t.Fatalf("resolve property move: %v", err)
	}
	if result.Updated != 1 || len(result.Errors) != 0 {
		t.Fatalf("property move result: %+v", result)
	}
	cottage, err := models.FindPropertyByLabel(ctx, "Garden Cottage")
	if err != nil {
		t.Fatalf("cottage lookup: %v", err)
	}
	if _, err := models.FindBookingByScopedCode(ctx, db, cottage.ID, models.BookingSourceAirbnb, "HMZE8BT5AC"); err != nil {
		t.Fatalf("booking did not move to the new property: %v", err)
	}
	if _, err := models.FindBookingByScopedCode(ctx, db, seaside.ID, models.BookingSourceAirbnb, "HMZE8BT5AC"); err == nil {
		t.Fatalf("booking still listed under the old property after the move")
	}
}

func TestImportHaltsOnUnknownPropertyForNonSuperuser(t *testing.T) {
	ctx := setupIntegrationDB(t)
	ctx = utils.SetIsSuperuserInContext(ctx, false)

	summary, err := workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: "schedule-unknown.xlsx",
		Rows: []workflow.NormalizedRow{
			makeRow("Laura Chen", "Brand New Villa", "Airbnb", "HM111", "Confirmed", 10, 14),
		},
	})
	if err == nil {
		t.Fatalf("import against an unknown property succeeded: %+v", summary)
	}
	if !strings.Contains(err.Error(), "Brand New Villa") {
		t.Fatalf("approval error does not name the property: %v", err)
	}
	if _, perr := models.FindPropertyByLabel(ctx, "Brand New Villa"); perr == nil {
		t.Fatalf("halted import still created the property")
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("propops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=propops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
