package http

import (
	"log/slog"
	"net/http"
	"strings"
)

type RouterConfig struct {
	Calendar     *CalendarHandler
	Appointments *AppointmentHandler
	Tests        *TestHandler
	Resits       *ResitHandler
	Reference    *ReferenceHandler
	Logger       *slog.Logger
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	rt := router{responder: newResponder(cfg.Logger)}

	if cfg.Calendar != nil {
		mux.HandleFunc("/schedule-availability", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				rt.methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Calendar.Availability(w, r)
		})
		mux.HandleFunc("/admin/schedule-templates", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				rt.methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Calendar.ListTemplates(w, r)
		})
		mux.HandleFunc("/admin/schedule-templates/", func(w http.ResponseWriter, r *http.Request) {
			segments := pathSegments(r.URL.Path, "/admin/schedule-templates/")
			if len(segments) != 1 {
				rt.notFound(w, r)
				return
			}
			if r.Method != http.MethodPut {
				rt.methodNotAllowed(w, r, http.MethodPut)
				return
			}
			cfg.Calendar.ReplaceTemplate(w, r, segments[0])
		})
		mux.HandleFunc("/admin/holidays", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Calendar.ListHolidays(w, r)
			case http.MethodPost:
				cfg.Calendar.CreateHoliday(w, r)
			default:
				rt.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/admin/holidays/", func(w http.ResponseWriter, r *http.Request) {
			segments := pathSegments(r.URL.Path, "/admin/holidays/")
			if len(segments) != 1 {
				rt.notFound(w, r)
				return
			}
			if r.Method != http.MethodDelete {
				rt.methodNotAllowed(w, r, http.MethodDelete)
				return
			}
			cfg.Calendar.DeleteHoliday(w, r, segments[0])
		})
	}

	if cfg.Appointments != nil {
		mux.HandleFunc("/appointments", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Appointments.List(w, r)
			case http.MethodPost:
				cfg.Appointments.Book(w, r)
			default:
				rt.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/appointments/", func(w http.ResponseWriter, r *http.Request) {
			segments := pathSegments(r.URL.Path, "/appointments/")
			switch len(segments) {
			case 1:
				if r.Method != http.MethodGet {
					rt.methodNotAllowed(w, r, http.MethodGet)
					return
				}
				cfg.Appointments.Get(w, r, segments[0])
				return
			case 2:
			default:
				rt.notFound(w, r)
				return
			}

			id, action := segments[0], segments[1]
			switch action {
			case "verification", "reschedule-history":
				if r.Method != http.MethodGet {
					rt.methodNotAllowed(w, r, http.MethodGet)
					return
				}
				if action == "verification" {
					cfg.Appointments.GetVerification(w, r, id)
				} else {
					cfg.Appointments.RescheduleHistory(w, r, id)
				}
				return
			}

			var handle func(http.ResponseWriter, *http.Request, string)
			switch action {
			case "reschedule":
				handle = cfg.Appointments.Reschedule
			case "cancel":
				handle = cfg.Appointments.Cancel
			case "confirm":
				handle = cfg.Appointments.Confirm
			case "verify-identity":
				handle = cfg.Appointments.VerifyIdentity
			default:
				rt.notFound(w, r)
				return
			}
			if r.Method != http.MethodPost {
				rt.methodNotAllowed(w, r, http.MethodPost)
				return
			}
			handle(w, r, id)
		})
	}

	if cfg.Tests != nil {
		posts := map[string]http.HandlerFunc{
			"/multi-stage-tests/start":          cfg.Tests.Start,
			"/multi-stage-tests/submit-written": cfg.Tests.SubmitWritten,
			"/multi-stage-tests/assign-officer": cfg.Tests.AssignOfficer,
			"/multi-stage-tests/evaluate-stage": cfg.Tests.EvaluateStage,
		}
		for pattern, handle := range posts {
			handle := handle
			mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					rt.methodNotAllowed(w, r, http.MethodPost)
					return
				}
				handle(w, r)
			})
		}
		mux.HandleFunc("/multi-stage-tests/my-assignments", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				rt.methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Tests.MyAssignments(w, r)
		})
		mux.HandleFunc("/multi-stage-tests/session/", func(w http.ResponseWriter, r *http.Request) {
			segments := pathSegments(r.URL.Path, "/multi-stage-tests/session/")
			switch {
			case len(segments) == 1:
				if r.Method != http.MethodGet {
					rt.methodNotAllowed(w, r, http.MethodGet)
					return
				}
				cfg.Tests.GetSession(w, r, segments[0])
			case len(segments) == 2 && segments[1] == "evaluations":
				if r.Method != http.MethodGet {
					rt.methodNotAllowed(w, r, http.MethodGet)
					return
				}
				cfg.Tests.ListEvaluations(w, r, segments[0])
			default:
				rt.notFound(w, r)
			}
		})
	}

	if cfg.Resits != nil {
		mux.HandleFunc("/resits", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				rt.methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Resits.List(w, r)
		})
		mux.HandleFunc("/resits/request", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rt.methodNotAllowed(w, r, http.MethodPost)
				return
			}
			cfg.Resits.Request(w, r)
		})
		mux.HandleFunc("/resits/", func(w http.ResponseWriter, r *http.Request) {
			segments := pathSegments(r.URL.Path, "/resits/")
			switch {
			case len(segments) == 1:
				if r.Method != http.MethodGet {
					rt.methodNotAllowed(w, r, http.MethodGet)
					return
				}
				cfg.Resits.Get(w, r, segments[0])
			case len(segments) == 2 && segments[1] == "approve":
				if r.Method != http.MethodPut {
					rt.methodNotAllowed(w, r, http.MethodPut)
					return
				}
				cfg.Resits.Approve(w, r, segments[0])
			default:
				rt.notFound(w, r)
			}
		})
	}

	if cfg.Reference != nil {
		mux.HandleFunc("/admin/test-configs", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Reference.ListTestConfigs(w, r)
			case http.MethodPost:
				cfg.Reference.CreateTestConfig(w, r)
			default:
				rt.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/admin/test-configs/", rt.single("/admin/test-configs/", http.MethodPut, cfg.Reference.UpdateTestConfig))
		mux.HandleFunc("/admin/evaluation-criteria", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Reference.ListCriteria(w, r)
			case http.MethodPost:
				cfg.Reference.CreateCriterion(w, r)
			default:
				rt.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/admin/evaluation-criteria/", rt.single("/admin/evaluation-criteria/", http.MethodPut, cfg.Reference.UpdateCriterion))
		mux.HandleFunc("/admin/officers", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				rt.methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Reference.ListOfficers(w, r)
		})
		mux.HandleFunc("/admin/officers/", rt.single("/admin/officers/", http.MethodPut, cfg.Reference.SaveOfficer))
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

type router struct {
	responder responder
}

// single routes prefix/{id} to handle when the request uses method.
func (rt router) single(prefix, method string, handle func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segments := pathSegments(r.URL.Path, prefix)
		if len(segments) != 1 {
			rt.notFound(w, r)
			return
		}
		if r.Method != method {
			rt.methodNotAllowed(w, r, method)
			return
		}
		handle(w, r, segments[0])
	}
}

func (rt router) notFound(w http.ResponseWriter, r *http.Request) {
	rt.responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: statusCode(http.StatusNotFound), Message: errUnknownRoute.Error()})
}

func (rt router) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	rt.responder.writeJSON(r.Context(), w, http.StatusMethodNotAllowed, errorResponse{
		ErrorCode: statusCode(http.StatusMethodNotAllowed),
		Message:   http.StatusText(http.StatusMethodNotAllowed),
	})
}

// pathSegments splits the path below prefix, ignoring a trailing slash.
// Empty segments make the route unmatched.
func pathSegments(path, prefix string) []string {
	rest := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	segments := strings.Split(rest, "/")
	for _, segment := range segments {
		if segment == "" {
			return nil
		}
	}
	return segments
}
