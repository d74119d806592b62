package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/session"
	"bankflow/pkg/wizard"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("portal: malformed request body")

// decode reads an optional JSON body into v.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// status reports uptime and the number of running flows.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":  "running",
		"started": s.started,
		"uptime":  s.now().Sub(s.started).String(),
		"flows":   s.registry.len(),
	})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) primaryAccount(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.Primary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.Transactions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

// balanceRequest is the body of deposit and payment.
type balanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Payee  string          `json:"payee,omitempty"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.flows.Deposit(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) payment(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.flows.Payment(r.Context(), mux.Vars(r)["id"], req.Amount, req.Payee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) beneficiaries(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.Beneficiaries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

// saveBeneficiaries replaces the whole list. Allocations are checked
// before anything is sent.
func (s *Server) saveBeneficiaries(w http.ResponseWriter, r *http.Request) {
	var bens []banking.Beneficiary
	if err := decode(r, &bens); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.flows.SaveBeneficiaries(r.Context(), mux.Vars(r)["id"], bens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	out, err := s.flows.Alerts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) saveAlerts(w http.ResponseWriter, r *http.Request) {
	var prefs banking.AlertPreferences
	if err := decode(r, &prefs); err != nil {
		s.writeError(w, r, err)
		return
	}
	prefs.AccountID = mux.Vars(r)["id"]
	out, err := s.flows.SaveAlerts(r.Context(), prefs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) recentTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.flows.RecentTransfers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: transfers, Source: apiclient.SourceSample})
}

// clearSession drops the session mirror, as on sign-out.
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	sid := session.IDFrom(r.Context())
	if err := s.sessions.Clear(r.Context(), sid); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("session cleared", zap.String("session", sid))
	writeData(w, http.StatusOK, nil)
}

func (s *Server) listFlows(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.flows.Names())
}

// startFlow creates a wizard. The optional body maps field names to
// preset values.
func (s *Server) startFlow(w http.ResponseWriter, r *http.Request) {
	presets := map[string]string{}
	if err := decode(r, &presets); err != nil {
		s.writeError(w, r, err)
		return
	}
	wz, err := s.flows.Start(r.Context(), mux.Vars(r)["flow"], presets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.registry.put(session.IDFrom(r.Context()), wz)
	writeData(w, http.StatusCreated, viewOf(wz))
}

func (s *Server) wizard(r *http.Request) (*wizard.Wizard, error) {
	return s.registry.get(session.IDFrom(r.Context()), mux.Vars(r)["id"])
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	wz, err := s.wizard(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewOf(wz))
}

func (s *Server) setFields(w http.ResponseWriter, r *http.Request) {
	wz, err := s.wizard(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	values := map[string]string{}
	if err := decode(r, &values); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := wz.SetAll(values); err != nil {
		s.writeErrorData(w, r, err, viewOf(wz))
		return
	}
	writeData(w, http.StatusOK, viewOf(wz))
}

// next validates the current step and advances or submits. Fields in
// the body are stored first, so a page can post its values and move on
// in one request.
func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	wz, err := s.wizard(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	values := map[string]string{}
	if err := decode(r, &values); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(values) > 0 {
		if err := wz.SetAll(values); err != nil {
			s.writeErrorData(w, r, err, viewOf(wz))
			return
		}
	}
	if err := wz.Next(r.Context()); err != nil {
		s.writeErrorData(w, r, err, viewOf(wz))
		return
	}
	s.writeStep(w, wz)
}

// back moves one step back. Leaving step 1 exits the flow and drops it.
func (s *Server) back(w http.ResponseWriter, r *http.Request) {
	wz, err := s.wizard(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = wz.Back()
	switch {
	case errors.Is(err, wizard.ErrExited):
		s.registry.remove(wz.ID())
	case err != nil:
		s.writeErrorData(w, r, err, viewOf(wz))
		return
	}
	writeData(w, http.StatusOK, viewOf(wz))
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	wz, err := s.wizard(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := wz.Retry(r.Context()); err != nil {
		s.writeErrorData(w, r, err, viewOf(wz))
		return
	}
	s.writeStep(w, wz)
}

// writeStep answers a successful Next or Retry. A confirmation recorded
// locally marks the envelope degraded.
func (s *Server) writeStep(w http.ResponseWriter, wz *wizard.Wizard) {
	resp := Response{Success: true, Data: viewOf(wz), Source: apiclient.SourceServer}
	if conf, ok := wz.Confirmation(); ok && conf.Degraded {
		resp.Degraded = true
		resp.Source = apiclient.SourceSample
	}
	writeJSON(w, http.StatusOK, resp)
}
