package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	jsonMiddleware := standardMiddleware.Append(makeResponseJSON)
	sessionMiddleware := jsonMiddleware.Append(app.requireSession)
	// Checkout answers with a redirect for plain form posts.
	checkoutMiddleware := standardMiddleware.Append(app.requireSession)

	mux := pat.New()

	mux.Get("/healthz", jsonMiddleware.ThenFunc(app.healthz))

	// Session
	mux.Post("/session", jsonMiddleware.ThenFunc(app.sessionHandler.CreateSession))
	mux.Del("/session", jsonMiddleware.Append(app.optionalSession).ThenFunc(app.sessionHandler.DeleteSession))

	// Checkout
	mux.Post("/challenges/:id/attempts", checkoutMiddleware.ThenFunc(app.checkoutHandler.StartSecretSubmission))
	mux.Post("/credits/purchases", checkoutMiddleware.ThenFunc(app.checkoutHandler.StartCreditPurchase))
	mux.Get("/credits/balance", sessionMiddleware.ThenFunc(app.workflowHandler.RefreshBalance))

	// Resumption
	mux.Post("/workflow/reconcile", sessionMiddleware.ThenFunc(app.workflowHandler.Reconcile))
	mux.Post("/workflow/retry", sessionMiddleware.ThenFunc(app.workflowHandler.Retry))
	mux.Get("/workflow/status", sessionMiddleware.ThenFunc(app.workflowHandler.Status))
	mux.Get("/workflow/history", sessionMiddleware.ThenFunc(app.workflowHandler.ListHistory))
	mux.Get("/ws/workflow", standardMiddleware.Append(app.requireSession).ThenFunc(app.WorkflowWebSocketHandler))

	return mux
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if app.rdb != nil {
		if err := app.rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, `{"status":"redis unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}
	if app.db != nil {
		if err := app.db.PingContext(r.Context()); err != nil {
			http.Error(w, `{"status":"database unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
