package application_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/persistence"
	"github.com/example/testcentre/internal/progression"
	"github.com/example/testcentre/internal/testfixtures"
)

const testDay = "2024-06-03"

type env struct {
	ctx      context.Context
	harness  *testfixtures.SQLiteHarness
	seeded   testfixtures.Seeded
	clock    *testfixtures.Clock
	services *testfixtures.Services
}

func newEnv(t *testing.T, opts ...testfixtures.ConfigOption) *env {
	t.Helper()
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults(opts...)
	factory := testfixtures.NewServiceFactory()
	return &env{
		ctx:      context.Background(),
		harness:  harness,
		seeded:   seeded,
		clock:    factory.Clock,
		services: factory.Build(harness.Storage),
	}
}

func confirmed() *bool {
	v := true
	return &v
}

func rejected() *bool {
	v := false
	return &v
}

func (e *env) book(t *testing.T, candidateID, date, slot string) persistence.Appointment {
	t.Helper()
	appointment, err := e.services.Appointments.Book(e.ctx, application.BookAppointmentParams{
		Principal: testfixtures.Candidate(candidateID),
		ConfigID:  e.seeded.Config.ID,
		Date:      date,
		Slot:      slot,
	})
	if err != nil {
		t.Fatalf("book %s: %v", candidateID, err)
	}
	return appointment
}

func (e *env) verify(t *testing.T, appointmentID string) {
	t.Helper()
	verification, err := e.services.Verification.Verify(e.ctx, application.VerifyIdentityParams{
		Principal:              testfixtures.Officer(e.seeded.Officer.ID),
		AppointmentID:          appointmentID,
		DocumentType:           "licence",
		DocumentNumber:         "L-123",
		Photos:                 []application.PhotoInput{{Kind: "face", Data: []byte("jpeg-bytes")}},
		DocumentMatchConfirmed: confirmed(),
		PhotoMatchConfirmed:    confirmed(),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Outcome != persistence.VerificationVerified {
		t.Fatalf("expected verified, got %s", verification.Outcome)
	}
}

// startOnDay books a slot on date, moves the clock to date, verifies and
// starts the session.
func (e *env) startOnDay(t *testing.T, candidateID, date, slot string) persistence.TestSession {
	t.Helper()
	appointment := e.book(t, candidateID, date, slot)
	e.clock.SetDate(date)
	e.verify(t, appointment.ID)
	session, err := e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate(candidateID),
		AppointmentID: appointment.ID,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return session
}

func (e *env) passWritten(t *testing.T, session persistence.TestSession) persistence.TestSession {
	t.Helper()
	outcome, err := e.services.Sessions.SubmitWritten(e.ctx, application.SubmitWrittenParams{
		Principal: testfixtures.Candidate(session.CandidateID),
		SessionID: session.ID,
		Responses: testfixtures.PassingAnswers(),
	})
	if err != nil {
		t.Fatalf("submit written: %v", err)
	}
	return outcome.Session
}

func (e *env) assign(t *testing.T, sessionID string, stage progression.Stage) {
	t.Helper()
	if _, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
		Principal: testfixtures.Manager(),
		SessionID: sessionID,
		Stage:     string(stage),
		OfficerID: e.seeded.Officer.ID,
	}); err != nil {
		t.Fatalf("assign %s: %v", stage, err)
	}
}

func (e *env) evaluate(sessionID string, stage progression.Stage, points ...float64) (application.StageOutcome, error) {
	criteria := e.seeded.YardCriteria
	if stage == progression.StageRoad {
		criteria = e.seeded.RoadCriteria
	}
	scores := make([]application.CriterionScoreInput, 0, len(points))
	for i, p := range points {
		scores = append(scores, application.CriterionScoreInput{CriterionID: criteria[i].ID, Points: p})
	}
	return e.services.Evaluations.Evaluate(e.ctx, application.EvaluateStageParams{
		Principal: testfixtures.Officer(e.seeded.Officer.ID),
		SessionID: sessionID,
		Stage:     string(stage),
		Scores:    scores,
	})
}

func TestBooking_ThirdCandidateExceedsCapacity(t *testing.T) {
	e := newEnv(t)

	e.book(t, "cand-1", testDay, "09:00-10:00")
	e.book(t, "cand-2", testDay, "09:00-10:00")

	_, err := e.services.Appointments.Book(e.ctx, application.BookAppointmentParams{
		Principal: testfixtures.Candidate("cand-3"),
		ConfigID:  e.seeded.Config.ID,
		Date:      testDay,
		Slot:      "09:00-10:00",
	})
	var capErr *application.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Capacity != 2 || capErr.Booked != 2 || capErr.Remaining() != 0 {
		t.Fatalf("unexpected capacity context %+v", capErr)
	}

	day, err := e.services.Calendar.Availability(e.ctx, testfixtures.Candidate("cand-3"), testDay)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(day.Slots) != 2 {
		t.Fatalf("expected full slot to remain listed, got %+v", day.Slots)
	}
	if day.Slots[0].Slot != "09:00-10:00" || day.Slots[0].Available != 0 || day.Slots[0].Booked != 2 {
		t.Fatalf("unexpected first slot %+v", day.Slots[0])
	}
	if day.Slots[1].Available != 1 {
		t.Fatalf("unexpected second slot %+v", day.Slots[1])
	}
}

func TestBooking_LastSeatRace(t *testing.T) {
	e := newEnv(t)

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.services.Appointments.Book(e.ctx, application.BookAppointmentParams{
				Principal: testfixtures.Candidate(fmt.Sprintf("racer-%d", i)),
				ConfigID:  e.seeded.Config.ID,
				Date:      testDay,
				Slot:      "10:00-11:00",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one booking to win, got %d", successes)
	}
	for _, err := range errs {
		var capErr *application.CapacityExceededError
		if !errors.As(err, &capErr) {
			t.Fatalf("expected CapacityExceededError, got %v", err)
		}
	}
}

func TestBooking_HolidayBlocksEveryone(t *testing.T) {
	e := newEnv(t)

	if _, err := e.services.Calendar.CreateHoliday(e.ctx, application.CreateHolidayParams{
		Principal: testfixtures.Administrator(),
		Date:      "2024-06-10",
		Name:      "Founders Day",
	}); err != nil {
		t.Fatalf("create holiday: %v", err)
	}

	day, err := e.services.Calendar.Availability(e.ctx, testfixtures.Candidate("cand-1"), "2024-06-10")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(day.Slots) != 0 || day.Holiday != "Founders Day" {
		t.Fatalf("expected holiday with no slots, got %+v", day)
	}

	_, err = e.services.Appointments.Book(e.ctx, application.BookAppointmentParams{
		Principal: testfixtures.Candidate("cand-1"),
		ConfigID:  e.seeded.Config.ID,
		Date:      "2024-06-10",
		Slot:      "09:00-10:00",
	})
	var holidayErr *application.HolidayBlockedError
	if !errors.As(err, &holidayErr) || holidayErr.Name != "Founders Day" {
		t.Fatalf("expected HolidayBlockedError, got %v", err)
	}
}

func TestBooking_RejectsBadInput(t *testing.T) {
	e := newEnv(t)

	cases := map[string]application.BookAppointmentParams{
		"slot not offered": {ConfigID: e.seeded.Config.ID, Date: testDay, Slot: "13:00-14:00"},
		"no template":      {ConfigID: e.seeded.Config.ID, Date: "2024-06-04", Slot: "09:00-10:00"},
		"past date":        {ConfigID: e.seeded.Config.ID, Date: "2024-05-27", Slot: "09:00-10:00"},
		"unknown config":   {ConfigID: "missing", Date: testDay, Slot: "09:00-10:00"},
		"malformed slot":   {ConfigID: e.seeded.Config.ID, Date: testDay, Slot: "nine"},
	}
	for name, params := range cases {
		params.Principal = testfixtures.Candidate("cand-1")
		_, err := e.services.Appointments.Book(e.ctx, params)
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}

	_, err := e.services.Appointments.Book(e.ctx, application.BookAppointmentParams{
		Principal:   testfixtures.Candidate("cand-1"),
		CandidateID: "cand-2",
		ConfigID:    e.seeded.Config.ID,
		Date:        testDay,
		Slot:        "09:00-10:00",
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected candidates to book only for themselves, got %v", err)
	}
}

func TestReschedule_ReusesFreedCapacity(t *testing.T) {
	e := newEnv(t)

	holder := e.book(t, "cand-1", testDay, "10:00-11:00")
	mover := e.book(t, "cand-2", testDay, "09:00-10:00")

	_, err := e.services.Appointments.Reschedule(e.ctx, application.RescheduleParams{
		Principal:     testfixtures.Candidate("cand-2"),
		AppointmentID: mover.ID,
		NewDate:       testDay,
		NewSlot:       "10:00-11:00",
	})
	var capErr *application.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}

	if _, err := e.services.Appointments.Cancel(e.ctx, testfixtures.Candidate("cand-1"), holder.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again, err := e.services.Appointments.Cancel(e.ctx, testfixtures.Candidate("cand-1"), holder.ID)
	if err != nil || again.Status != persistence.AppointmentCancelled {
		t.Fatalf("expected idempotent cancel, got %+v (%v)", again, err)
	}

	moved, err := e.services.Appointments.Reschedule(e.ctx, application.RescheduleParams{
		Principal:     testfixtures.Candidate("cand-2"),
		AppointmentID: mover.ID,
		NewDate:       testDay,
		NewSlot:       "10:00-11:00",
		Reason:        "work shift",
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.ID != mover.ID || moved.Slot != "10:00-11:00" {
		t.Fatalf("unexpected rescheduled appointment %+v", moved)
	}
	if !strings.Contains(moved.Notes, "work shift") || !strings.Contains(moved.Notes, "09:00-10:00") {
		t.Fatalf("expected reschedule note, got %q", moved.Notes)
	}

	history, err := e.services.Appointments.RescheduleHistory(e.ctx, testfixtures.Candidate("cand-2"), mover.ID)
	if err != nil {
		t.Fatalf("reschedule history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry for the successful move, got %+v", history)
	}
	if entry := history[0]; entry.OriginalSlot != "09:00-10:00" || entry.NewSlot != "10:00-11:00" ||
		entry.Reason != "work shift" || entry.RescheduledBy != "cand-2" {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if _, err := e.services.Appointments.RescheduleHistory(e.ctx, testfixtures.Candidate("cand-1"), mover.ID); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected another candidate to be refused the history, got %v", err)
	}

	_, err = e.services.Appointments.Reschedule(e.ctx, application.RescheduleParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: holder.ID,
		NewDate:       testDay,
		NewSlot:       "09:00-10:00",
	})
	var statusErr *application.AppointmentStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected cancelled appointment to be immovable, got %v", err)
	}

	_, err = e.services.Appointments.Reschedule(e.ctx, application.RescheduleParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: mover.ID,
		NewDate:       testDay,
		NewSlot:       "09:00-10:00",
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for another candidate, got %v", err)
	}
}

func TestReschedule_NewDateRequiresFreshVerification(t *testing.T) {
	e := newEnv(t)
	appointment := e.book(t, "cand-1", testDay, "09:00-10:00")
	e.clock.SetDate(testDay)
	e.verify(t, appointment.ID)

	moved, err := e.services.Appointments.Reschedule(e.ctx, application.RescheduleParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
		NewDate:       "2024-06-10",
		NewSlot:       "09:00-10:00",
		Reason:        "car trouble",
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.VerificationStatus != persistence.VerificationPending {
		t.Fatalf("expected verification to reset on a new date, got %s", moved.VerificationStatus)
	}

	e.clock.SetDate("2024-06-10")
	_, err = e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	})
	if !errors.As(err, new(*application.VerificationRequiredError)) {
		t.Fatalf("expected VerificationRequiredError on the new date, got %v", err)
	}

	e.verify(t, appointment.ID)
	if _, err := e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	}); err != nil {
		t.Fatalf("start after re-verification: %v", err)
	}
}

func TestGate_EarlyTestIsDenied(t *testing.T) {
	e := newEnv(t)

	// Verified on 2024-06-01 for an appointment on 2024-06-03.
	appointment := e.book(t, "cand-1", testDay, "09:00-10:00")
	e.verify(t, appointment.ID)

	_, err := e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	})
	var gateErr *application.VerificationRequiredError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected VerificationRequiredError, got %v", err)
	}
	if gateErr.Today != "2024-06-01" || gateErr.AppointmentDate != testDay {
		t.Fatalf("unexpected gate context %+v", gateErr)
	}

	e.clock.SetDate(testDay)
	session, err := e.services.Sessions.Start(e.ctx, application.StartSessionParams{Principal: testfixtures.Candidate("cand-1")})
	if err != nil {
		t.Fatalf("start on the day: %v", err)
	}
	if session.Status != progression.StatusActive || session.AppointmentID != appointment.ID {
		t.Fatalf("unexpected session %+v", session)
	}

	again, err := e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	})
	if err != nil || again.ID != session.ID {
		t.Fatalf("expected the open session to be returned, got %+v (%v)", again, err)
	}
}

func TestVerify_OutcomeFollowsConfirmations(t *testing.T) {
	e := newEnv(t)
	appointment := e.book(t, "cand-1", testDay, "09:00-10:00")
	officer := testfixtures.Officer(e.seeded.Officer.ID)

	partial, err := e.services.Verification.Verify(e.ctx, application.VerifyIdentityParams{
		Principal:              officer,
		AppointmentID:          appointment.ID,
		DocumentMatchConfirmed: confirmed(),
	})
	if err != nil || partial.Outcome != persistence.VerificationPending {
		t.Fatalf("expected pending for partial evidence, got %+v (%v)", partial, err)
	}

	failed, err := e.services.Verification.Verify(e.ctx, application.VerifyIdentityParams{
		Principal:              officer,
		AppointmentID:          appointment.ID,
		DocumentMatchConfirmed: confirmed(),
		PhotoMatchConfirmed:    rejected(),
		Photos:                 []application.PhotoInput{{Kind: "face", Data: []byte("img")}},
	})
	if err != nil || failed.Outcome != persistence.VerificationFailed {
		t.Fatalf("expected failed, got %+v (%v)", failed, err)
	}
	if len(failed.Photos) != 1 || len(failed.Photos[0].Digest) != 64 {
		t.Fatalf("expected a hex digest of the photo, got %+v", failed.Photos)
	}

	stored, err := e.services.Verification.Get(e.ctx, testfixtures.Candidate("cand-1"), appointment.ID)
	if err != nil || stored.Outcome != persistence.VerificationFailed {
		t.Fatalf("expected the latest record to replace the earlier one, got %+v (%v)", stored, err)
	}

	e.clock.SetDate(testDay)
	_, err = e.services.Sessions.Start(e.ctx, application.StartSessionParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	})
	var gateErr *application.VerificationRequiredError
	if !errors.As(err, &gateErr) || gateErr.Status != persistence.VerificationFailed {
		t.Fatalf("expected VerificationRequiredError, got %v", err)
	}

	_, err = e.services.Verification.Verify(e.ctx, application.VerifyIdentityParams{
		Principal:     testfixtures.Candidate("cand-1"),
		AppointmentID: appointment.ID,
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected candidates to be refused, got %v", err)
	}

	e.clock.SetDate("2024-06-04")
	_, err = e.services.Verification.Verify(e.ctx, application.VerifyIdentityParams{
		Principal:              officer,
		AppointmentID:          appointment.ID,
		DocumentMatchConfirmed: confirmed(),
		PhotoMatchConfirmed:    confirmed(),
	})
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected verification after the date to be rejected, got %v", err)
	}
}

func TestProgression_FullPass(t *testing.T) {
	e := newEnv(t)
	session := e.startOnDay(t, "cand-1", testDay, "09:00-10:00")

	if _, err := e.evaluate(session.ID, progression.StageRoad, 25, 25, 25, 25); !isNotReady(err, progression.StatusActive) {
		t.Fatalf("expected SessionNotReadyError for road on active session, got %v", err)
	}

	session = e.passWritten(t, session)
	if session.Status != progression.StatusWrittenPassed || session.Written == nil || session.Written.Score != 100 {
		t.Fatalf("unexpected session after written %+v", session)
	}

	if _, err := e.evaluate(session.ID, progression.StageYard, 25, 25, 25, 25); !errors.As(err, new(*application.AssignmentRequiredError)) {
		t.Fatalf("expected AssignmentRequiredError, got %v", err)
	}

	e.assign(t, session.ID, progression.StageYard)
	_, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
		Principal: testfixtures.Manager(),
		SessionID: session.ID,
		Stage:     "yard",
		OfficerID: e.seeded.Officer.ID,
	})
	if !errors.As(err, new(*application.DuplicateAssignmentError)) {
		t.Fatalf("expected DuplicateAssignmentError, got %v", err)
	}
	_, err = e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
		Principal: testfixtures.Manager(),
		SessionID: session.ID,
		Stage:     "road",
		OfficerID: e.seeded.Officer.ID,
	})
	if !isNotReady(err, progression.StatusWrittenPassed) {
		t.Fatalf("expected SessionNotReadyError assigning road early, got %v", err)
	}

	worklist, err := e.services.Assignments.MyAssignments(e.ctx, testfixtures.Officer(e.seeded.Officer.ID))
	if err != nil || len(worklist) != 1 || worklist[0].Session.ID != session.ID {
		t.Fatalf("unexpected worklist %+v (%v)", worklist, err)
	}

	_, err = e.services.Evaluations.Evaluate(e.ctx, application.EvaluateStageParams{
		Principal: testfixtures.Officer("someone-else"),
		SessionID: session.ID,
		Stage:     "yard",
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected unassigned officer to be refused, got %v", err)
	}

	outcome, err := e.evaluate(session.ID, progression.StageYard, 25, 25, 20, 20)
	if err != nil {
		t.Fatalf("evaluate yard: %v", err)
	}
	if !outcome.Passed || outcome.Score != 90 || outcome.Session.Status != progression.StatusYardPassed {
		t.Fatalf("unexpected yard outcome %+v", outcome)
	}

	if _, err := e.evaluate(session.ID, progression.StageYard, 25, 25, 25, 25); !isNotReady(err, progression.StatusYardPassed) {
		t.Fatalf("expected re-scoring yard to be refused, got %v", err)
	}

	e.assign(t, session.ID, progression.StageRoad)
	outcome, err = e.evaluate(session.ID, progression.StageRoad, 25, 25, 25, 25)
	if err != nil {
		t.Fatalf("evaluate road: %v", err)
	}
	if outcome.Session.Status != progression.StatusCompleted || outcome.Session.CompletedAt == nil {
		t.Fatalf("expected completed session, got %+v", outcome.Session)
	}

	appointment, err := e.services.Appointments.Get(e.ctx, testfixtures.Manager(), session.AppointmentID)
	if err != nil || appointment.Status != persistence.AppointmentCompleted {
		t.Fatalf("expected appointment to be completed, got %+v (%v)", appointment, err)
	}

	evaluations, err := e.services.Evaluations.List(e.ctx, testfixtures.Candidate("cand-1"), session.ID)
	if err != nil || len(evaluations) != 2 {
		t.Fatalf("expected two evaluations, got %d (%v)", len(evaluations), err)
	}
}

func TestProgression_CriticalCriterionFailsStage(t *testing.T) {
	e := newEnv(t)
	session := e.passWritten(t, e.startOnDay(t, "cand-1", testDay, "09:00-10:00"))
	e.assign(t, session.ID, progression.StageYard)

	outcome, err := e.evaluate(session.ID, progression.StageYard, 25, 25, 25, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if outcome.Score != 75 || outcome.Passed {
		t.Fatalf("expected a 75%% aggregate to fail on the critical criterion, got %+v", outcome)
	}
	if outcome.Evaluation == nil || outcome.Evaluation.CriticalPassed {
		t.Fatalf("expected critical failure to be recorded, got %+v", outcome.Evaluation)
	}
	if outcome.Session.Status != progression.StatusFailed || outcome.Session.FailedStage != progression.StageYard {
		t.Fatalf("unexpected session %+v", outcome.Session)
	}
}

func TestProgression_WrittenFailureIsTerminal(t *testing.T) {
	e := newEnv(t)
	session := e.startOnDay(t, "cand-1", testDay, "09:00-10:00")

	outcome, err := e.services.Sessions.SubmitWritten(e.ctx, application.SubmitWrittenParams{
		Principal: testfixtures.Candidate("cand-1"),
		SessionID: session.ID,
		Responses: testfixtures.FailingAnswers(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Passed || outcome.Session.Status != progression.StatusFailed || outcome.Session.FailedStage != progression.StageWritten {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	_, err = e.services.Sessions.SubmitWritten(e.ctx, application.SubmitWrittenParams{
		Principal: testfixtures.Candidate("cand-1"),
		SessionID: session.ID,
		Responses: testfixtures.PassingAnswers(),
	})
	if !isNotReady(err, progression.StatusFailed) {
		t.Fatalf("expected failed session to refuse scoring, got %v", err)
	}
}

func TestAssign_RejectsUnsuitableOfficersAndStages(t *testing.T) {
	e := newEnv(t)
	session := e.passWritten(t, e.startOnDay(t, "cand-1", testDay, "09:00-10:00"))

	inactive := testfixtures.NewOfficerFixture(testfixtures.WithOfficerInactive())
	manager := testfixtures.NewOfficerFixture(testfixtures.WithOfficerRole(persistence.RoleManager))
	for _, officer := range []persistence.Officer{inactive, manager} {
		if err := e.harness.Storage.Officers.UpsertOfficer(e.ctx, officer); err != nil {
			t.Fatalf("seed officer: %v", err)
		}
	}

	for _, officerID := range []string{"ghost", inactive.ID, manager.ID} {
		_, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
			Principal: testfixtures.Manager(),
			SessionID: session.ID,
			Stage:     "yard",
			OfficerID: officerID,
		})
		var officerErr *application.UnknownOfficerError
		if !errors.As(err, &officerErr) || officerErr.OfficerID != officerID {
			t.Fatalf("%s: expected UnknownOfficerError, got %v", officerID, err)
		}
	}

	for _, stage := range []string{"written", "parking"} {
		_, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
			Principal: testfixtures.Manager(),
			SessionID: session.ID,
			Stage:     stage,
			OfficerID: e.seeded.Officer.ID,
		})
		if !errors.As(err, new(*application.InvalidStageError)) {
			t.Fatalf("%s: expected InvalidStageError, got %v", stage, err)
		}
	}

	_, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
		Principal: testfixtures.Officer(e.seeded.Officer.ID),
		SessionID: session.ID,
		Stage:     "yard",
		OfficerID: e.seeded.Officer.ID,
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected officers to be refused, got %v", err)
	}

	replacement := testfixtures.NewOfficerFixture()
	if err := e.harness.Storage.Officers.UpsertOfficer(e.ctx, replacement); err != nil {
		t.Fatalf("seed officer: %v", err)
	}
	e.assign(t, session.ID, progression.StageYard)
	assignment, err := e.services.Assignments.Assign(e.ctx, application.AssignOfficerParams{
		Principal: testfixtures.Manager(),
		SessionID: session.ID,
		Stage:     "yard",
		OfficerID: replacement.ID,
	})
	if err != nil || assignment.OfficerID != replacement.ID {
		t.Fatalf("expected reassignment to replace, got %+v (%v)", assignment, err)
	}
	stored, err := e.harness.Storage.Assignments.GetAssignment(e.ctx, session.ID, progression.StageYard)
	if err != nil || stored.OfficerID != replacement.ID {
		t.Fatalf("expected a single replaced assignment, got %+v (%v)", stored, err)
	}
}

func TestResit_ContinuesFromFailedRoad(t *testing.T) {
	e := newEnv(t)
	session := e.passWritten(t, e.startOnDay(t, "cand-1", testDay, "09:00-10:00"))
	e.assign(t, session.ID, progression.StageYard)
	if _, err := e.evaluate(session.ID, progression.StageYard, 25, 25, 25, 25); err != nil {
		t.Fatalf("yard: %v", err)
	}
	e.assign(t, session.ID, progression.StageRoad)
	failed, err := e.evaluate(session.ID, progression.StageRoad, 10, 10, 10, 10)
	if err != nil || failed.Session.Status != progression.StatusFailed {
		t.Fatalf("expected road failure, got %+v (%v)", failed, err)
	}

	candidate := testfixtures.Candidate("cand-1")
	request := application.RequestResitParams{
		Principal:         candidate,
		OriginalSessionID: session.ID,
		RequestedDate:     "2024-06-10",
		RequestedSlot:     "09:00-10:00",
		Reason:            "nerves",
	}

	request.FailedStages = []string{"yard", "road"}
	if _, err := e.services.Resits.Request(e.ctx, request); !errors.As(err, new(*application.ResitNotEligibleError)) {
		t.Fatalf("expected passed stage to be refused, got %v", err)
	}
	request.FailedStages = []string{"flying"}
	if _, err := e.services.Resits.Request(e.ctx, request); !errors.As(err, new(*application.InvalidStageError)) {
		t.Fatalf("expected InvalidStageError, got %v", err)
	}
	request.FailedStages = nil
	if _, err := e.services.Resits.Request(e.ctx, request); !errors.As(err, new(*application.ValidationError)) {
		t.Fatalf("expected empty stage list to be refused, got %v", err)
	}

	request.FailedStages = []string{"road"}
	resit, err := e.services.Resits.Request(e.ctx, request)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resit.Status != persistence.ResitPending || resit.ResitAttemptNumber != 1 {
		t.Fatalf("unexpected resit %+v", resit)
	}
	if _, err := e.services.Resits.Request(e.ctx, request); !errors.As(err, new(*application.ResitNotEligibleError)) {
		t.Fatalf("expected second request to be refused, got %v", err)
	}

	if _, err := e.services.Resits.Approve(e.ctx, candidate, resit.ID); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected candidates to be refused approval, got %v", err)
	}
	approved, err := e.services.Resits.Approve(e.ctx, testfixtures.Manager(), resit.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	continuation := approved.Session
	if continuation.Status != progression.StatusYardPassed || continuation.ResitOf != session.ID || continuation.Attempt != 1 {
		t.Fatalf("unexpected continuation %+v", continuation)
	}
	if continuation.Written == nil || continuation.Yard == nil || continuation.Road != nil {
		t.Fatalf("expected written and yard carried over, got %+v", continuation)
	}
	if continuation.Yard.CarriedFrom != session.ID {
		t.Fatalf("expected carried result to name the original session, got %q", continuation.Yard.CarriedFrom)
	}
	if approved.Appointment.Date != "2024-06-10" || approved.Resit.Status != persistence.ResitScheduled {
		t.Fatalf("unexpected approval %+v", approved)
	}
	if _, err := e.services.Resits.Approve(e.ctx, testfixtures.Manager(), resit.ID); !errors.As(err, new(*application.ResitNotEligibleError)) {
		t.Fatalf("expected second approval to be refused, got %v", err)
	}

	e.clock.SetDate("2024-06-10")
	e.verify(t, approved.Appointment.ID)
	if _, err := e.evaluate(continuation.ID, progression.StageYard, 25, 25, 25, 25); !isNotReady(err, progression.StatusYardPassed) {
		t.Fatalf("expected passed yard to be closed on the continuation, got %v", err)
	}
	e.assign(t, continuation.ID, progression.StageRoad)
	outcome, err := e.evaluate(continuation.ID, progression.StageRoad, 25, 25, 25, 25)
	if err != nil || outcome.Session.Status != progression.StatusCompleted {
		t.Fatalf("expected continuation to complete, got %+v (%v)", outcome, err)
	}

	resits, err := e.services.Resits.List(e.ctx, candidate, "")
	if err != nil || len(resits) != 1 || resits[0].Status != persistence.ResitCompleted {
		t.Fatalf("expected completed resit, got %+v (%v)", resits, err)
	}
}

func TestResit_Eligibility(t *testing.T) {
	e := newEnv(t, testfixtures.WithMaxResits(1))
	session := e.passWritten(t, e.startOnDay(t, "cand-1", testDay, "09:00-10:00"))

	_, err := e.services.Resits.Request(e.ctx, application.RequestResitParams{
		Principal:         testfixtures.Candidate("cand-1"),
		OriginalSessionID: session.ID,
		FailedStages:      []string{"yard"},
		RequestedDate:     "2024-06-10",
		RequestedSlot:     "09:00-10:00",
	})
	if !errors.As(err, new(*application.ResitNotEligibleError)) {
		t.Fatalf("expected an unfinished session to be ineligible, got %v", err)
	}

	exhausted := session
	exhausted.ID = "session-exhausted"
	exhausted.Status = progression.StatusFailed
	exhausted.FailedStage = progression.StageYard
	exhausted.Attempt = 1
	if err := e.harness.Storage.Sessions.CreateSession(e.ctx, exhausted); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	_, err = e.services.Resits.Request(e.ctx, application.RequestResitParams{
		Principal:         testfixtures.Candidate("cand-1"),
		OriginalSessionID: exhausted.ID,
		FailedStages:      []string{"yard", "road"},
		RequestedDate:     "2024-06-10",
		RequestedSlot:     "09:00-10:00",
	})
	var resitErr *application.ResitNotEligibleError
	if !errors.As(err, &resitErr) || !strings.Contains(resitErr.Reason, "limit") {
		t.Fatalf("expected resit limit to apply, got %v", err)
	}

	_, err = e.services.Resits.Request(e.ctx, application.RequestResitParams{
		Principal:         testfixtures.Candidate("cand-2"),
		OriginalSessionID: exhausted.ID,
		FailedStages:      []string{"yard"},
		RequestedDate:     "2024-06-10",
		RequestedSlot:     "09:00-10:00",
	})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected other candidates to be refused, got %v", err)
	}
}

func isNotReady(err error, status progression.Status) bool {
	var notReady *application.SessionNotReadyError
	return errors.As(err, &notReady) && notReady.Status == status
}

// unavailableOnce fails the first RecordEvaluation the way an exhausted lock
// retry does, then delegates.
type unavailableOnce struct {
	persistence.EvaluationRepository
	failed bool
}

func (u *unavailableOnce) RecordEvaluation(ctx context.Context, evaluation persistence.StageEvaluation, session persistence.TestSession, expected progression.Status) error {
	if !u.failed {
		u.failed = true
		return fmt.Errorf("%w: operation failed after 3 retries: database is locked", persistence.ErrUnavailable)
	}
	return u.EvaluationRepository.RecordEvaluation(ctx, evaluation, session, expected)
}

func TestEvaluate_TransientFailureStaysRetryable(t *testing.T) {
	e := newEnv(t)
	session := e.passWritten(t, e.startOnDay(t, "cand-1", testDay, "09:00-10:00"))
	e.assign(t, session.ID, progression.StageYard)

	storage := e.harness.Storage
	evaluations := application.NewEvaluationService(
		e.services.Appointments, storage.Sessions, storage.Configs, storage.Assignments,
		&unavailableOnce{EvaluationRepository: storage.Evaluations}, storage.Resits,
		testfixtures.NewIDGenerator("eval").NextFunc(), e.clock.NowFunc(),
		application.Policy{CriticalMinRatio: 0.5, MaxResits: 3},
	)
	params := application.EvaluateStageParams{
		Principal: testfixtures.Officer(e.seeded.Officer.ID),
		SessionID: session.ID,
		Stage:     "yard",
		Scores: []application.CriterionScoreInput{
			{CriterionID: e.seeded.YardCriteria[0].ID, Points: 25},
			{CriterionID: e.seeded.YardCriteria[1].ID, Points: 25},
			{CriterionID: e.seeded.YardCriteria[2].ID, Points: 20},
			{CriterionID: e.seeded.YardCriteria[3].ID, Points: 20},
		},
	}

	if _, err := evaluations.Evaluate(e.ctx, params); !errors.Is(err, application.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on the first attempt, got %v", err)
	}
	stored, err := e.services.Sessions.Get(e.ctx, testfixtures.Manager(), session.ID)
	if err != nil || stored.Status != progression.StatusWrittenPassed {
		t.Fatalf("expected session to stay written_passed, got %+v (%v)", stored, err)
	}

	outcome, err := evaluations.Evaluate(e.ctx, params)
	if err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	if outcome.Session.Status != progression.StatusYardPassed || outcome.Score != 90 {
		t.Fatalf("unexpected outcome after retry %+v", outcome)
	}
	list, err := e.services.Evaluations.List(e.ctx, testfixtures.Manager(), session.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one evaluation, got %d (%v)", len(list), err)
	}
}
