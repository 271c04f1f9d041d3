package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
	"github.com/example/testcentre/internal/testfixtures"
)

func newAppointment(seeded testfixtures.Seeded, id, candidateID string) persistence.Appointment {
	base := testfixtures.ReferenceTime()
	return persistence.Appointment{
		ID:                 id,
		CandidateID:        candidateID,
		ConfigID:           seeded.Config.ID,
		Date:               "2024-06-03",
		Slot:               "09:00-10:00",
		Status:             persistence.AppointmentScheduled,
		VerificationStatus: persistence.VerificationPending,
		CreatedAt:          base,
		UpdatedAt:          base,
	}
}

func TestTestSessionResults(t *testing.T) {
	t.Parallel()

	var session persistence.TestSession
	written := &persistence.StageResult{Score: 80, Passed: true}
	session.SetResult(progression.StageWritten, written)
	session.SetResult(progression.StageRoad, &persistence.StageResult{Score: 10})

	if session.Result(progression.StageWritten) != written {
		t.Fatalf("expected written result to be stored")
	}
	if session.Result(progression.StageYard) != nil {
		t.Fatalf("expected no yard result")
	}
	if session.Road == nil || session.Road.Score != 10 {
		t.Fatalf("expected road result, got %+v", session.Road)
	}
	if session.Result(progression.Stage("parking")) != nil {
		t.Fatalf("expected unknown stage to have no result")
	}
}

func TestTestConfigPassMark(t *testing.T) {
	t.Parallel()

	config := persistence.TestConfig{WrittenPassMark: 70, YardPassMark: 80, RoadPassMark: 90}
	cases := map[progression.Stage]float64{
		progression.StageWritten: 70,
		progression.StageYard:    80,
		progression.StageRoad:    90,
		"parking":                0,
	}
	for stage, want := range cases {
		if got := config.PassMark(stage); got != want {
			t.Fatalf("%s: expected %v, got %v", stage, want, got)
		}
	}

	if (persistence.Appointment{Status: persistence.AppointmentCancelled}).Live() {
		t.Fatalf("cancelled appointments must not occupy capacity")
	}
	if !(persistence.Appointment{Status: persistence.AppointmentCompleted}).Live() {
		t.Fatalf("completed appointments occupy capacity")
	}
}

func TestSessionRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults()
	base := testfixtures.ReferenceTime()

	appointment := newAppointment(seeded, "appt-1", "cand-1")
	if err := harness.Storage.Appointments.InsertWithinCapacity(ctx, appointment, 2); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}

	session := persistence.TestSession{
		ID:            "session-1",
		CandidateID:   "cand-1",
		ConfigID:      seeded.Config.ID,
		AppointmentID: appointment.ID,
		Status:        progression.StatusYardPassed,
		Written:       &persistence.StageResult{Score: 100, Passed: true, EvaluatedAt: base, CarriedFrom: "session-0"},
		Yard:          &persistence.StageResult{Score: 90, Passed: true, EvaluatedBy: seeded.Officer.ID, EvaluatedAt: base},
		ResitOf:       "session-0",
		Attempt:       1,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	if err := harness.Storage.Sessions.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	open, err := harness.Storage.Sessions.FindOpenSession(ctx, "cand-1", seeded.Config.ID)
	if err != nil {
		t.Fatalf("find open session: %v", err)
	}
	if open.ID != session.ID || open.Attempt != 1 || open.ResitOf != "session-0" {
		t.Fatalf("unexpected session %+v", open)
	}
	if open.Written == nil || open.Written.CarriedFrom != "session-0" || open.Road != nil {
		t.Fatalf("expected stage results to round-trip, got %+v", open)
	}
	if open.Yard == nil || open.Yard.EvaluatedBy != seeded.Officer.ID || !open.Yard.EvaluatedAt.Equal(base) {
		t.Fatalf("unexpected yard result %+v", open.Yard)
	}

	completedAt := base.Add(2 * time.Hour)
	open.Status = progression.StatusCompleted
	open.Road = &persistence.StageResult{Score: 85, Passed: true, EvaluatedAt: completedAt}
	open.CompletedAt = &completedAt
	if err := harness.Storage.Sessions.UpdateSession(ctx, open, progression.StatusYardPassed); err != nil {
		t.Fatalf("update session: %v", err)
	}

	if _, err := harness.Storage.Sessions.FindOpenSession(ctx, "cand-1", seeded.Config.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected no open session after completion, got %v", err)
	}
	stored, err := harness.Storage.Sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.CompletedAt == nil || !stored.CompletedAt.Equal(completedAt) || stored.Road == nil {
		t.Fatalf("unexpected completed session %+v", stored)
	}

	if _, err := harness.Storage.Sessions.GetSession(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReferenceRepositories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults()

	retired := seeded.YardCriteria[0]
	retired.IsActive = false
	if err := harness.Storage.Configs.UpsertCriterion(ctx, retired); err != nil {
		t.Fatalf("retire criterion: %v", err)
	}

	all, err := harness.Storage.Configs.ListCriteria(ctx, "", false)
	if err != nil || len(all) != 8 {
		t.Fatalf("expected 8 criteria, got %d (%v)", len(all), err)
	}
	active, err := harness.Storage.Configs.ListCriteria(ctx, progression.StageYard, true)
	if err != nil || len(active) != 3 {
		t.Fatalf("expected 3 active yard criteria, got %d (%v)", len(active), err)
	}
	for _, criterion := range active {
		if criterion.Stage != progression.StageYard || !criterion.IsActive {
			t.Fatalf("unexpected criterion %+v", criterion)
		}
	}

	config, err := harness.Storage.Configs.GetTestConfig(ctx, seeded.Config.ID)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(config.AnswerKey) != 4 || config.AnswerKey["q2"] != "b" || config.MaxResits != 3 {
		t.Fatalf("unexpected config %+v", config)
	}

	second := testfixtures.NewOfficerFixture()
	if err := harness.Storage.Officers.UpsertOfficer(ctx, second); err != nil {
		t.Fatalf("upsert officer: %v", err)
	}
	officers, err := harness.Storage.Officers.ListOfficers(ctx)
	if err != nil || len(officers) != 2 {
		t.Fatalf("expected 2 officers, got %d (%v)", len(officers), err)
	}
}

func TestAssignmentRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults()
	base := testfixtures.ReferenceTime()

	appointment := newAppointment(seeded, "appt-1", "cand-1")
	if err := harness.Storage.Appointments.InsertWithinCapacity(ctx, appointment, 2); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}
	session := persistence.TestSession{
		ID:            "session-1",
		CandidateID:   "cand-1",
		ConfigID:      seeded.Config.ID,
		AppointmentID: appointment.ID,
		Status:        progression.StatusWrittenPassed,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	if err := harness.Storage.Sessions.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	other := testfixtures.NewOfficerFixture()
	if err := harness.Storage.Officers.UpsertOfficer(ctx, other); err != nil {
		t.Fatalf("upsert officer: %v", err)
	}

	assignment := persistence.OfficerAssignment{
		SessionID:  session.ID,
		Stage:      progression.StageYard,
		OfficerID:  seeded.Officer.ID,
		AssignedBy: "manager-1",
		AssignedAt: base,
	}
	if err := harness.Storage.Assignments.UpsertAssignment(ctx, assignment); err != nil {
		t.Fatalf("upsert assignment: %v", err)
	}
	assignment.OfficerID = other.ID
	assignment.AssignedAt = base.Add(time.Minute)
	if err := harness.Storage.Assignments.UpsertAssignment(ctx, assignment); err != nil {
		t.Fatalf("replace assignment: %v", err)
	}

	stored, err := harness.Storage.Assignments.GetAssignment(ctx, session.ID, progression.StageYard)
	if err != nil || stored.OfficerID != other.ID {
		t.Fatalf("expected replaced assignment, got %+v (%v)", stored, err)
	}
	if list, err := harness.Storage.Assignments.ListAssignmentsForOfficer(ctx, seeded.Officer.ID); err != nil || len(list) != 0 {
		t.Fatalf("expected previous officer to have no assignments, got %+v (%v)", list, err)
	}
	if list, err := harness.Storage.Assignments.ListAssignmentsForOfficer(ctx, other.ID); err != nil || len(list) != 1 {
		t.Fatalf("expected one assignment, got %+v (%v)", list, err)
	}
	if _, err := harness.Storage.Assignments.GetAssignment(ctx, session.ID, progression.StageRoad); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for road, got %v", err)
	}
}

func TestVerificationAndResitLookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults()
	base := testfixtures.ReferenceTime()
	yes := true

	appointment := newAppointment(seeded, "appt-1", "cand-1")
	if err := harness.Storage.Appointments.InsertWithinCapacity(ctx, appointment, 2); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}

	verification := persistence.IdentityVerification{
		AppointmentID:          appointment.ID,
		CandidateID:            "cand-1",
		DocumentType:           "licence",
		DocumentNumber:         "L-1",
		Photos:                 []persistence.PhotoEvidence{{Kind: "face", Digest: "abc123"}},
		DocumentMatchConfirmed: &yes,
		Outcome:                persistence.VerificationPending,
		VerifiedBy:             seeded.Officer.ID,
		VerifiedAt:             base,
	}
	if err := harness.Storage.Verifications.SaveVerification(ctx, verification); err != nil {
		t.Fatalf("save verification: %v", err)
	}
	stored, err := harness.Storage.Verifications.GetVerification(ctx, appointment.ID)
	if err != nil {
		t.Fatalf("get verification: %v", err)
	}
	if len(stored.Photos) != 1 || stored.Photos[0].Digest != "abc123" {
		t.Fatalf("expected photo digests to round-trip, got %+v", stored.Photos)
	}
	if stored.DocumentMatchConfirmed == nil || !*stored.DocumentMatchConfirmed || stored.PhotoMatchConfirmed != nil {
		t.Fatalf("expected tri-state confirmations to round-trip, got %+v", stored)
	}

	for i, candidate := range []string{"cand-1", "cand-2"} {
		original := persistence.TestSession{
			ID:            "session-" + candidate,
			CandidateID:   candidate,
			ConfigID:      seeded.Config.ID,
			AppointmentID: appointment.ID,
			Status:        progression.StatusFailed,
			FailedStage:   progression.StageWritten,
			CreatedAt:     base,
			UpdatedAt:     base,
		}
		if err := harness.Storage.Sessions.CreateSession(ctx, original); err != nil {
			t.Fatalf("create session: %v", err)
		}
		resit := persistence.ResitRequest{
			ID:                    "resit-" + candidate,
			CandidateID:           candidate,
			OriginalSessionID:     original.ID,
			ResitAttemptNumber:    1,
			FailedStages:          []progression.Stage{progression.StageWritten},
			RequestedDate:         "2024-06-10",
			RequestedSlot:         "09:00-10:00",
			Status:                persistence.ResitScheduled,
			AppointmentID:         "appt-next",
			ContinuationSessionID: "continuation-" + candidate,
			CreatedAt:             base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:             base,
		}
		if err := harness.Storage.Resits.CreateResit(ctx, resit); err != nil {
			t.Fatalf("create resit: %v", err)
		}
	}

	found, err := harness.Storage.Resits.FindResitByContinuation(ctx, "continuation-cand-2")
	if err != nil || found.ID != "resit-cand-2" {
		t.Fatalf("expected lookup by continuation, got %+v (%v)", found, err)
	}
	if len(found.FailedStages) != 1 || found.FailedStages[0] != progression.StageWritten {
		t.Fatalf("unexpected failed stages %+v", found.FailedStages)
	}

	all, err := harness.Storage.Resits.ListResits(ctx, "")
	if err != nil || len(all) != 2 || all[0].ID != "resit-cand-2" {
		t.Fatalf("expected newest first, got %+v (%v)", all, err)
	}
	mine, err := harness.Storage.Resits.ListResits(ctx, "cand-1")
	if err != nil || len(mine) != 1 || mine[0].ID != "resit-cand-1" {
		t.Fatalf("expected candidate filter, got %+v (%v)", mine, err)
	}
}
