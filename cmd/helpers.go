package main

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

func (app *application) serverError(w http.ResponseWriter, err error) {
	trace := fmt.Sprintf("%s\n%s", err.Error(), debug.Stack())
	_ = app.errorLog.Output(2, trace)
	http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
}

func (app *application) unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error":"Session expired. Please sign in again."}`, http.StatusUnauthorized)
}
