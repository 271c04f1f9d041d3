package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/testcentre/internal/testfixtures"
)

const routerDay = "2024-06-03"

type apiHarness struct {
	t       *testing.T
	handler http.Handler
	clock   *testfixtures.Clock
	seeded  testfixtures.Seeded
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	harness := testfixtures.NewSQLiteHarness(t)
	seeded := harness.SeedDefaults()
	factory := testfixtures.NewServiceFactory(testfixtures.WithLogger(logger))
	services := factory.Build(harness.Storage)

	verifier := NewJWTVerifierWithClock(testSecret, factory.Clock.NowFunc())
	handler := NewRouter(RouterConfig{
		Calendar:     NewCalendarHandler(services.Calendar, logger),
		Appointments: NewAppointmentHandler(services.Appointments, services.Verification, logger),
		Tests:        NewTestHandler(services.Sessions, services.Assignments, services.Evaluations, logger),
		Resits:       NewResitHandler(services.Resits, logger),
		Reference:    NewReferenceHandler(services.Reference, logger),
		Logger:       logger,
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
			RequirePrincipal(verifier, logger),
		},
	})

	return &apiHarness{t: t, handler: handler, clock: factory.Clock, seeded: seeded}
}

func (a *apiHarness) token(subject, role string) string {
	a.t.Helper()
	return signToken(a.t, testSecret, claimsFor(subject, role, a.clock.Now().Add(30*24*time.Hour)))
}

func (a *apiHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, req)
	return recorder
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", recorder.Code, want, recorder.Body.String())
	}
}

func decodeInto(t *testing.T, recorder *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func TestRouterBookingFlow(t *testing.T) {
	api := newAPIHarness(t)
	cand1 := api.token("cand-1", "candidate")
	cand2 := api.token("cand-2", "candidate")

	res := api.do(http.MethodGet, "/schedule-availability?date="+routerDay, cand1, nil)
	expectStatus(t, res, http.StatusOK)
	var day availabilityDTO
	decodeInto(t, res, &day)
	if len(day.AvailableSlots) != 2 || day.AvailableSlots[0].TimeSlot != "09:00-10:00" || day.AvailableSlots[0].Available != 2 {
		t.Fatalf("unexpected availability: %+v", day)
	}

	res = api.do(http.MethodPost, "/appointments", cand1, map[string]any{
		"test_config_id":   api.seeded.Config.ID,
		"appointment_date": routerDay,
		"time_slot":        "10:00-11:00",
	})
	expectStatus(t, res, http.StatusCreated)
	var appointment appointmentDTO
	decodeInto(t, res, &appointment)
	if appointment.CandidateID != "cand-1" || appointment.Status != "scheduled" || appointment.VerificationStatus != "pending" {
		t.Fatalf("unexpected appointment: %+v", appointment)
	}

	t.Run("full slot reports remaining capacity", func(t *testing.T) {
		res := api.do(http.MethodPost, "/appointments", cand2, map[string]any{
			"test_config_id":   api.seeded.Config.ID,
			"appointment_date": routerDay,
			"time_slot":        "10:00-11:00",
		})
		expectStatus(t, res, http.StatusConflict)
		body := decodeErrorBody(t, res)
		if body.ErrorCode != "CAPACITY_EXCEEDED" || body.Details["remaining"] != float64(0) {
			t.Fatalf("unexpected body: %+v", body)
		}
	})

	t.Run("other candidates cannot read the appointment", func(t *testing.T) {
		expectStatus(t, api.do(http.MethodGet, "/appointments/"+appointment.ID, cand2, nil), http.StatusForbidden)
		expectStatus(t, api.do(http.MethodGet, "/appointments/"+appointment.ID, cand1, nil), http.StatusOK)
	})

	t.Run("listing is scoped to the candidate", func(t *testing.T) {
		res := api.do(http.MethodGet, "/appointments", cand2, nil)
		expectStatus(t, res, http.StatusOK)
		var list appointmentsResponse
		decodeInto(t, res, &list)
		if len(list.Appointments) != 0 {
			t.Fatalf("expected no appointments for cand-2, got %d", len(list.Appointments))
		}
	})

	t.Run("routing errors", func(t *testing.T) {
		res := api.do(http.MethodDelete, "/appointments", cand1, nil)
		expectStatus(t, res, http.StatusMethodNotAllowed)
		if got := res.Header().Get("Allow"); got != "GET, POST" {
			t.Fatalf("Allow = %q", got)
		}
		expectStatus(t, api.do(http.MethodPost, "/appointments/"+appointment.ID+"/teleport", cand1, nil), http.StatusNotFound)
		expectStatus(t, api.do(http.MethodGet, "/appointments/"+appointment.ID+"/cancel", cand1, nil), http.StatusMethodNotAllowed)
		expectStatus(t, api.do(http.MethodGet, "/appointments", "", nil), http.StatusUnauthorized)
	})

	t.Run("invalid body lists field errors", func(t *testing.T) {
		res := api.do(http.MethodPost, "/appointments", cand1, map[string]any{"appointment_date": "next monday"})
		expectStatus(t, res, http.StatusBadRequest)
		body := decodeErrorBody(t, res)
		if body.Errors["test_config_id"] == "" || body.Errors["appointment_date"] == "" || body.Errors["time_slot"] == "" {
			t.Fatalf("unexpected field errors: %+v", body.Errors)
		}
	})

	t.Run("reschedule history lists moves newest first", func(t *testing.T) {
		for _, slot := range []string{"09:00-10:00", "10:00-11:00"} {
			res := api.do(http.MethodPost, "/appointments/"+appointment.ID+"/reschedule", cand1, map[string]any{
				"new_date":      routerDay,
				"new_time_slot": slot,
				"reason":        "bus timetable",
				"notes":         "moved to " + slot,
			})
			expectStatus(t, res, http.StatusOK)
		}

		res := api.do(http.MethodGet, "/appointments/"+appointment.ID+"/reschedule-history", cand1, nil)
		expectStatus(t, res, http.StatusOK)
		var history rescheduleHistoryResponse
		decodeInto(t, res, &history)
		if len(history.History) != 2 {
			t.Fatalf("expected two history entries, got %+v", history.History)
		}
		latest := history.History[0]
		if latest.OriginalTimeSlot != "09:00-10:00" || latest.NewTimeSlot != "10:00-11:00" ||
			latest.Notes != "moved to 10:00-11:00" || latest.RescheduledBy != "cand-1" {
			t.Fatalf("unexpected latest entry %+v", latest)
		}

		expectStatus(t, api.do(http.MethodGet, "/appointments/"+appointment.ID+"/reschedule-history", cand2, nil), http.StatusForbidden)
		expectStatus(t, api.do(http.MethodPost, "/appointments/"+appointment.ID+"/reschedule-history", cand1, nil), http.StatusMethodNotAllowed)
	})

	t.Run("cancel frees the seat", func(t *testing.T) {
		expectStatus(t, api.do(http.MethodPost, "/appointments/"+appointment.ID+"/cancel", cand1, nil), http.StatusOK)
		res := api.do(http.MethodGet, "/schedule-availability?date="+routerDay, cand2, nil)
		expectStatus(t, res, http.StatusOK)
		var day availabilityDTO
		decodeInto(t, res, &day)
		if day.AvailableSlots[1].Available != 1 {
			t.Fatalf("expected the 10:00 seat to be free again: %+v", day.AvailableSlots[1])
		}
	})
}

func TestRouterMultiStageFlow(t *testing.T) {
	api := newAPIHarness(t)
	cand := api.token("cand-1", "candidate")
	officer := api.token(api.seeded.Officer.ID, "officer")
	manager := api.token("manager-1", "manager")

	res := api.do(http.MethodPost, "/appointments", cand, map[string]any{
		"test_config_id":   api.seeded.Config.ID,
		"appointment_date": routerDay,
		"time_slot":        "09:00-10:00",
	})
	expectStatus(t, res, http.StatusCreated)
	var appointment appointmentDTO
	decodeInto(t, res, &appointment)

	res = api.do(http.MethodPost, "/multi-stage-tests/start", cand, map[string]any{"appointment_id": appointment.ID})
	expectStatus(t, res, http.StatusForbidden)
	if body := decodeErrorBody(t, res); body.ErrorCode != "VERIFICATION_REQUIRED" {
		t.Fatalf("unexpected gate rejection: %+v", body)
	}

	api.clock.SetDate(routerDay)
	res = api.do(http.MethodPost, "/appointments/"+appointment.ID+"/verify-identity", officer, map[string]any{
		"document_type":            "licence",
		"document_number":          "L-123",
		"photo_evidence":           []map[string]any{{"type": "face", "data": base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))}},
		"document_match_confirmed": true,
		"photo_match_confirmed":    true,
	})
	expectStatus(t, res, http.StatusOK)
	var verification verificationDTO
	decodeInto(t, res, &verification)
	if verification.Outcome != "verified" || len(verification.PhotoEvidence) != 1 || len(verification.PhotoEvidence[0].Digest) != 64 {
		t.Fatalf("unexpected verification: %+v", verification)
	}

	res = api.do(http.MethodPost, "/multi-stage-tests/start", cand, map[string]any{"appointment_id": appointment.ID})
	expectStatus(t, res, http.StatusOK)
	var started sessionResponse
	decodeInto(t, res, &started)
	sessionID := started.Session.ID
	if started.Session.Status != "active" || started.Session.CandidateID != "cand-1" {
		t.Fatalf("unexpected session: %+v", started.Session)
	}

	res = api.do(http.MethodPost, "/resits/request", cand, map[string]any{
		"original_session_id": sessionID,
		"failed_stages":       []string{"road"},
		"requested_date":      "2024-06-10",
		"requested_time_slot": "09:00-10:00",
	})
	expectStatus(t, res, http.StatusConflict)

	res = api.do(http.MethodPost, "/multi-stage-tests/submit-written", cand, map[string]any{
		"session_id": sessionID,
		"responses":  testfixtures.PassingAnswers(),
	})
	expectStatus(t, res, http.StatusOK)
	var written stageOutcomeDTO
	decodeInto(t, res, &written)
	if !written.Passed || written.Session.Status != "written_passed" {
		t.Fatalf("unexpected written outcome: %+v", written)
	}

	res = api.do(http.MethodPost, "/multi-stage-tests/assign-officer", officer, map[string]any{
		"session_id": sessionID, "stage": "yard", "officer_id": api.seeded.Officer.ID,
	})
	expectStatus(t, res, http.StatusForbidden)

	res = api.do(http.MethodPost, "/multi-stage-tests/assign-officer", manager, map[string]any{
		"session_id": sessionID, "stage": "yard", "officer_id": api.seeded.Officer.ID,
	})
	expectStatus(t, res, http.StatusOK)

	res = api.do(http.MethodGet, "/multi-stage-tests/my-assignments", officer, nil)
	expectStatus(t, res, http.StatusOK)
	var worklist myAssignmentsResponse
	decodeInto(t, res, &worklist)
	if len(worklist.Assignments) != 1 || worklist.Assignments[0].Session.ID != sessionID {
		t.Fatalf("unexpected worklist: %+v", worklist)
	}

	results := make([]map[string]any, 0, 4)
	for i, points := range []float64{25, 25, 20, 20} {
		results = append(results, map[string]any{"criterion_id": api.seeded.YardCriteria[i].ID, "points_awarded": points})
	}
	res = api.do(http.MethodPost, "/multi-stage-tests/evaluate-stage", officer, map[string]any{
		"session_id":       sessionID,
		"stage":            "yard",
		"criteria_results": results,
	})
	expectStatus(t, res, http.StatusOK)
	var yard stageOutcomeDTO
	decodeInto(t, res, &yard)
	if !yard.Passed || yard.Score != 90 || yard.Evaluation == nil || len(yard.Evaluation.CriteriaScores) != 4 {
		t.Fatalf("unexpected yard outcome: %+v", yard)
	}

	res = api.do(http.MethodGet, "/multi-stage-tests/session/"+sessionID, cand, nil)
	expectStatus(t, res, http.StatusOK)
	var current sessionResponse
	decodeInto(t, res, &current)
	if current.Session.Status != "yard_passed" || current.Session.YardResult == nil || current.Session.YardResult.Score != 90 {
		t.Fatalf("unexpected session after yard: %+v", current.Session)
	}

	res = api.do(http.MethodGet, "/multi-stage-tests/session/"+sessionID+"/evaluations", manager, nil)
	expectStatus(t, res, http.StatusOK)
	var evaluations evaluationsResponse
	decodeInto(t, res, &evaluations)
	if len(evaluations.Evaluations) != 1 || evaluations.Evaluations[0].Stage != "yard" {
		t.Fatalf("unexpected evaluations: %+v", evaluations)
	}

	res = api.do(http.MethodPost, "/multi-stage-tests/evaluate-stage", officer, map[string]any{
		"session_id": sessionID,
		"stage":      "road",
	})
	expectStatus(t, res, http.StatusConflict)
	if body := decodeErrorBody(t, res); body.ErrorCode != "ASSIGNMENT_REQUIRED" {
		t.Fatalf("unexpected road rejection: %+v", body)
	}
}

func TestRouterReferenceAdministration(t *testing.T) {
	api := newAPIHarness(t)
	admin := api.token("admin-1", "administrator")
	cand := api.token("cand-1", "candidate")

	configBody := map[string]any{"name": "Class C", "written_pass_mark": 80, "yard_pass_mark": 70, "road_pass_mark": 70}
	expectStatus(t, api.do(http.MethodPost, "/admin/test-configs", cand, configBody), http.StatusForbidden)

	res := api.do(http.MethodPost, "/admin/test-configs", admin, configBody)
	expectStatus(t, res, http.StatusCreated)
	var created testConfigDTO
	decodeInto(t, res, &created)
	if created.ID == "" || created.WrittenPassMark != 80 || !created.IsActive {
		t.Fatalf("unexpected config: %+v", created)
	}

	res = api.do(http.MethodPut, "/admin/test-configs/"+created.ID, admin, map[string]any{"name": "Class C (2024)", "max_resits": 1})
	expectStatus(t, res, http.StatusOK)
	var updated testConfigDTO
	decodeInto(t, res, &updated)
	if updated.Name != "Class C (2024)" || updated.MaxResits != 1 || updated.WrittenPassMark != 80 {
		t.Fatalf("unexpected update: %+v", updated)
	}

	res = api.do(http.MethodGet, "/admin/test-configs", admin, nil)
	expectStatus(t, res, http.StatusOK)
	var configs testConfigsResponse
	decodeInto(t, res, &configs)
	if len(configs.TestConfigs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs.TestConfigs))
	}

	res = api.do(http.MethodPost, "/admin/evaluation-criteria", admin, map[string]any{"stage": "parking", "name": "Bay", "max_points": 10})
	expectStatus(t, res, http.StatusBadRequest)
	if body := decodeErrorBody(t, res); body.Errors["stage"] == "" {
		t.Fatalf("expected a stage field error: %+v", body)
	}

	res = api.do(http.MethodGet, "/admin/evaluation-criteria?stage=yard&active=true", admin, nil)
	expectStatus(t, res, http.StatusOK)
	var criteria criteriaResponse
	decodeInto(t, res, &criteria)
	if len(criteria.Criteria) != 4 {
		t.Fatalf("expected 4 yard criteria, got %d", len(criteria.Criteria))
	}
	expectStatus(t, api.do(http.MethodGet, "/admin/evaluation-criteria?active=maybe", admin, nil), http.StatusBadRequest)

	res = api.do(http.MethodPut, "/admin/officers/officer-new", admin, map[string]any{"name": "New Officer", "role": "officer"})
	expectStatus(t, res, http.StatusOK)
	res = api.do(http.MethodGet, "/admin/officers", admin, nil)
	expectStatus(t, res, http.StatusOK)
	var officers officersResponse
	decodeInto(t, res, &officers)
	if len(officers.Officers) != 2 {
		t.Fatalf("expected 2 officers, got %d", len(officers.Officers))
	}

	res = api.do(http.MethodPut, "/admin/schedule-templates/6", admin, map[string]any{
		"slots": []map[string]any{{"start": "08:00", "end": "09:00", "capacity": 3}},
	})
	expectStatus(t, res, http.StatusOK)
	var sunday templateDTO
	decodeInto(t, res, &sunday)
	if sunday.Weekday != 6 || sunday.Day != "Sunday" {
		t.Fatalf("expected weekday 6 to be Sunday, got %+v", sunday)
	}
	res = api.do(http.MethodGet, "/schedule-availability?date=2024-06-09", cand, nil)
	expectStatus(t, res, http.StatusOK)
	var sundayAvailability availabilityDTO
	decodeInto(t, res, &sundayAvailability)
	if sundayAvailability.Weekday != 6 || len(sundayAvailability.AvailableSlots) != 1 || sundayAvailability.AvailableSlots[0].TimeSlot != "08:00-09:00" {
		t.Fatalf("expected the Sunday template on 2024-06-09: %+v", sundayAvailability)
	}
	res = api.do(http.MethodGet, "/schedule-availability?date=2024-06-03", cand, nil)
	expectStatus(t, res, http.StatusOK)
	var monday availabilityDTO
	decodeInto(t, res, &monday)
	if monday.Weekday != 0 || len(monday.AvailableSlots) == 0 {
		t.Fatalf("expected Monday to be weekday 0 with slots: %+v", monday)
	}
	expectStatus(t, api.do(http.MethodPut, "/admin/schedule-templates/saturday", admin, map[string]any{"slots": []any{}}), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodPut, "/admin/schedule-templates/7", admin, map[string]any{"slots": []any{}}), http.StatusBadRequest)

	res = api.do(http.MethodPost, "/admin/holidays", admin, map[string]any{"date": "2024-06-10", "name": "Founders Day"})
	expectStatus(t, res, http.StatusCreated)
	res = api.do(http.MethodGet, "/schedule-availability?date=2024-06-10", cand, nil)
	expectStatus(t, res, http.StatusOK)
	var day availabilityDTO
	decodeInto(t, res, &day)
	if day.Holiday != "Founders Day" || len(day.AvailableSlots) != 0 {
		t.Fatalf("expected holiday closure: %+v", day)
	}
	expectStatus(t, api.do(http.MethodDelete, "/admin/holidays/2024-06-10", admin, nil), http.StatusNoContent)
}
