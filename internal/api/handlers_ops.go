// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/reconcile"
)

// handleActivate flips every due scheduled session now instead of waiting
// for the next tick. Partial failures return the counts with a warning; the
// leftovers stay due and retry on the loop.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Activator.ActivateDue(r.Context())
	if err != nil && sum.Total == 0 {
		s.writeEngineError(w, r, err)
		return
	}

	var warnings []string
	if err != nil {
		log.FromContext(r.Context()).Warn().Err(err).Msg("manual activation incomplete")
		warnings = append(warnings, "ACTIVATION_INCOMPLETE")
	}
	writeData(w, http.StatusOK, sum, warnings)
}

// handleReconcile runs one repair sweep now. A sweep that accomplished
// nothing and errored is a failure; partial progress returns the counts with
// a warning.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reconciler.Reconcile(r.Context())
	if err != nil && res == (reconcile.Result{}) {
		s.writeEngineError(w, r, err)
		return
	}

	var warnings []string
	if err != nil {
		log.FromContext(r.Context()).Warn().Err(err).Msg("manual reconcile incomplete")
		warnings = append(warnings, "RECONCILE_INCOMPLETE")
	}
	writeData(w, http.StatusOK, res, warnings)
}
