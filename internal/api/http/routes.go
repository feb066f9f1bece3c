package http

import (
	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-nmt/internal/auth/middleware"
	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/live"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
	"github.com/mind-engage/mindengage-nmt/internal/storage"
)

type Deps struct {
	Service *exam.Service
	Auth    *auth.AuthService
	Blobs   storage.BlobStore
	Hub     *live.Hub
	Watcher *live.Watcher
	Events  EventSearcher // optional
	DB      pinger        // optional; readyz always passes without it
}

// Mount registers every route on r.
func Mount(r chi.Router, d Deps) {
	svc := d.Service
	var hub forgetter
	if d.Hub != nil {
		hub = d.Hub
	}

	r.Get("/healthz", HealthzHandler())
	if d.DB != nil {
		r.Get("/readyz", ReadyzHandler(d.DB))
	} else {
		r.Get("/readyz", HealthzHandler())
	}

	r.Post("/auth/login", auth.LoginHandler(d.Auth, Authenticator(svc)))

	if d.Blobs != nil {
		r.Route("/assets", func(ar chi.Router) {
			MountAssets(ar, d.Blobs)
		})
	}

	// Protected API (JWT → stored role in context → RBAC)
	r.Route("/api", func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		pr.Use(auth.AttachRoleFromStore(RoleLookup(svc)))

		pr.With(rbac.Require(rbac.PermProfileView)).Get("/me", MeHandler(svc))
		pr.With(rbac.Require(rbac.PermUserChangePassword)).Post("/me/password", ChangePasswordHandler(svc))

		// Users (admin)
		pr.With(rbac.Require(rbac.PermUsersManage)).Get("/users", ListUsersHandler(svc))
		pr.With(rbac.Require(rbac.PermUsersManage)).Post("/users", CreateUserHandler(svc))
		pr.With(rbac.Require(rbac.PermUsersManage)).Post("/users/bulk", BulkUpsertUsersHandler(svc))
		pr.With(rbac.Require(rbac.PermUsersManage)).Put("/users/{userID}/role", UpdateUserRoleHandler(svc))

		// Content
		pr.With(rbac.Require(rbac.PermContentView)).Get("/subjects", ListSubjectsHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Post("/subjects", CreateSubjectHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Put("/subjects/{subjectID}", UpdateSubjectHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Delete("/subjects/{subjectID}", DeleteSubjectHandler(svc))

		pr.With(rbac.Require(rbac.PermContentView)).Get("/tests", ListTestsHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Post("/tests", CreateTestHandler(svc))
		pr.With(rbac.Require(rbac.PermContentView)).Get("/tests/{testID}", GetTestHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Put("/tests/{testID}", UpdateTestHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Delete("/tests/{testID}", DeleteTestHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Post("/tests/{testID}/questions", AddQuestionHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Post("/tests/{testID}/questions/import", ImportQuestionsHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Get("/tests/{testID}/questions/export", ExportQuestionsHandler(svc))
		pr.With(rbac.Require(rbac.PermContentManage)).Delete("/tests/{testID}/questions/{questionID}", DeleteQuestionHandler(svc))

		if d.Blobs != nil {
			pr.With(rbac.Require(rbac.PermContentManage)).Post("/assets", UploadAssetHandler(d.Blobs))
			pr.With(rbac.Require(rbac.PermContentManage)).Delete("/assets/*", DeleteAssetHandler(d.Blobs))
		}

		// Sessions
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions", ListSessionsHandler(svc))
		pr.With(rbac.Require(rbac.PermSessionManage)).Post("/sessions", CreateSessionHandler(svc))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{sessionID}", GetSessionHandler(svc))
		pr.With(rbac.Require(rbac.PermSessionManage)).Delete("/sessions/{sessionID}", DeleteSessionHandler(svc, hub))
		pr.With(rbac.Require(rbac.PermSessionManage)).Put("/sessions/{sessionID}/students", SetAllowedStudentsHandler(svc))
		pr.With(rbac.Require(rbac.PermSessionManage)).Post("/sessions/{sessionID}/start", TransitionHandler(svc.StartSession))
		pr.With(rbac.Require(rbac.PermSessionManage)).Post("/sessions/{sessionID}/pause", TransitionHandler(svc.PauseSession))
		pr.With(rbac.Require(rbac.PermSessionManage)).Post("/sessions/{sessionID}/resume", TransitionHandler(svc.ResumeSession))
		pr.With(rbac.Require(rbac.PermSessionManage)).Post("/sessions/{sessionID}/finish", TransitionHandler(svc.FinishSession))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{sessionID}/clock", ClockHandler(svc))
		if d.Watcher != nil {
			pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{sessionID}/watch", WatchHandler(svc, d.Watcher))
		}
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{sessionID}/tests", SessionTestsHandler(svc))
		pr.With(rbac.Require(rbac.PermResultsExport)).Get("/sessions/{sessionID}/results", SessionResultsHandler(svc))
		pr.With(rbac.Require(rbac.PermResultsExport)).Get("/sessions/{sessionID}/results.csv", ResultsCSVHandler(svc))

		// Student flow
		pr.With(rbac.Require(rbac.PermAttemptCreate)).Post("/sessions/{sessionID}/attempt", OpenAttemptHandler(svc))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).Get("/attempts", ListAttemptsHandler(svc))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).Get("/attempts/{attemptID}", GetAttemptHandler(svc))
		pr.With(rbac.Require(rbac.PermAttemptSave)).Put("/attempts/{attemptID}/answers/{questionID}", SaveAnswerHandler(svc))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).Post("/attempts/{attemptID}/finish", SubmitAttemptHandler(svc))

		if d.Events != nil {
			pr.With(rbac.Require(rbac.PermAuditView)).Get("/admin/events", AuditEventsHandler(d.Events))
		}
	})
}
