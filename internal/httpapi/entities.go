package httpapi

import (
	"net/http"
	"slices"

	"payboard/backend/internal/domain"
)

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		clients, err := a.service.ListClients(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
	case http.MethodPost:
		var req domain.ClientCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		client, err := a.service.CreateClient(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"client": client})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	client, err := a.service.GetClient(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (a *API) handleClientStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatusUpdate(w, r)
	if !ok {
		return
	}
	client, err := a.service.UpdateClientStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (a *API) handleMachines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		machines, err := a.service.ListMachines(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"machines": machines})
	case http.MethodPost:
		if !slices.Contains(fleetRoles, sessionOf(r).Role) {
			writeError(w, http.StatusForbidden, errForbiddenRole)
			return
		}
		var req domain.MachineCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		machine, err := a.service.CreateMachine(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"machine": machine})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMachineAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.MachineAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	machine, err := a.service.AssignMachine(r.Context(), r.PathValue("id"), req.ClientID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": machine})
}

func (a *API) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatusUpdate(w, r)
	if !ok {
		return
	}
	machine, err := a.service.UpdateMachineStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": machine})
}

func (a *API) handlePaymentRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		requests, err := a.service.ListPaymentRequests(r.Context(), r.URL.Query().Get("client_id"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payment_requests": requests})
	case http.MethodPost:
		var req domain.PaymentRequestCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePaymentRequest(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"payment_request": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatusUpdate(w, r)
	if !ok {
		return
	}
	updated, err := a.service.UpdatePaymentRequestStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_request": updated})
}

func (a *API) handlePixKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := a.service.ListPixKeys(r.Context(), r.URL.Query().Get("client_id"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pix_keys": keys})
	case http.MethodPost:
		var req domain.PixKeyCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePixKey(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"pix_key": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePixKeyStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatusUpdate(w, r)
	if !ok {
		return
	}
	updated, err := a.service.UpdatePixKeyStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pix_key": updated})
}

// handleFeePlan reads a client's fee plan; only back-office roles may
// replace it.
func (a *API) handleFeePlan(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	switch r.Method {
	case http.MethodGet:
		plan, err := a.service.GetFeePlan(r.Context(), clientID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_plan": plan})
	case http.MethodPut:
		if sessionOf(r).Role == domain.RoleClient {
			writeError(w, http.StatusForbidden, errForbiddenRole)
			return
		}
		var plan domain.FeePlan
		if err := decodeJSON(r, &plan); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		plan.ClientID = clientID
		saved, err := a.service.UpsertFeePlan(r.Context(), plan)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_plan": saved})
	default:
		writeMethodNotAllowed(w)
	}
}

func decodeStatusUpdate(w http.ResponseWriter, r *http.Request) (domain.StatusUpdateRequest, bool) {
	var req domain.StatusUpdateRequest
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return req, false
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, false
	}
	return req, true
}
