// Package http provides HTTP handlers and middleware for the test centre API.
//
// Every route requires a bearer JWT whose claims carry the caller's role and,
// for candidates, their candidate ID. The router exposes:
//   - GET /schedule-availability?date=: per-slot capacity, bookings and remaining
//     seats for a date, or the holiday that closes it.
//   - GET /admin/schedule-templates, PUT /admin/schedule-templates/{weekday},
//     POST /admin/holidays, GET /admin/holidays, DELETE /admin/holidays/{date}:
//     weekly template and holiday administration.
//   - POST /appointments, GET /appointments, GET /appointments/{id} and the
//     lifecycle actions POST /appointments/{id}/reschedule, /cancel, /confirm and
//     /verify-identity, plus GET /appointments/{id}/verification and
//     /reschedule-history.
//   - POST /multi-stage-tests/start, GET /multi-stage-tests/session/{id},
//     GET /multi-stage-tests/session/{id}/evaluations,
//     POST /multi-stage-tests/submit-written, POST /multi-stage-tests/assign-officer,
//     GET /multi-stage-tests/my-assignments, POST /multi-stage-tests/evaluate-stage.
//   - POST /resits/request, GET /resits, GET /resits/{id}, PUT /resits/{id}/approve.
//   - POST/GET /admin/test-configs, PUT /admin/test-configs/{id},
//     POST/GET /admin/evaluation-criteria, PUT /admin/evaluation-criteria/{id},
//     GET /admin/officers, PUT /admin/officers/{id}.
//
// Errors share one body shape, {"error_code","message","errors","details"},
// where errors maps JSON field paths to messages and details carries the
// context of domain rejections such as remaining capacity.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
