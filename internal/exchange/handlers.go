package exchange

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/healthex/dlt-exchange/pkg/logger"
	"github.com/healthex/dlt-exchange/pkg/types"
)

// Handlers handles HTTP requests for the exchange service
type Handlers struct {
	service *Service
	logger  *logger.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  log,
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Record store
	router.HandleFunc("/records", h.StoreData).Methods("POST")
	router.HandleFunc("/records", h.UpdateData).Methods("PUT")
	router.HandleFunc("/records/{owner}", h.GetRecord).Methods("GET")

	// Access control ledger
	router.HandleFunc("/access/grants", h.GrantAccess).Methods("POST")
	router.HandleFunc("/access/grants/{grantee}", h.RevokeAccess).Methods("DELETE")
	router.HandleFunc("/access/{owner}/{grantee}", h.CheckAccess).Methods("GET")

	// Consent registry
	router.HandleFunc("/consent", h.SetConsentPreferences).Methods("PUT")
	router.HandleFunc("/consent/{patient}", h.GetConsentPreferences).Methods("GET")

	// Credential registry
	router.HandleFunc("/providers", h.RegisterProviderCredentials).Methods("POST")
	router.HandleFunc("/providers/{provider}/verify", h.VerifyProviderCredentials).Methods("POST")
	router.HandleFunc("/providers/{provider}", h.GetProviderCredential).Methods("GET")

	// Research proposal workflow
	router.HandleFunc("/proposals", h.SubmitResearchProposal).Methods("POST")
	router.HandleFunc("/proposals/{researcher}/{proposalID}/approve", h.ApproveResearchProposal).Methods("POST")
	router.HandleFunc("/proposals/{researcher}/{proposalID}/reject", h.RejectResearchProposal).Methods("POST")
	router.HandleFunc("/proposals/{researcher}/{proposalID}", h.GetResearchProposal).Methods("GET")

	// Audit log
	router.HandleFunc("/access-log", h.LogDataAccess).Methods("POST")
	router.HandleFunc("/access-requests", h.RequestDataAccess).Methods("POST")
	router.HandleFunc("/audit/{patient}", h.GetAuditTrail).Methods("GET")

	// Contribution rewards
	router.HandleFunc("/contributions", h.RecordResearchContribution).Methods("POST")
	router.HandleFunc("/contributions/{patient}/{researcher}", h.GetContribution).Methods("GET")
	router.HandleFunc("/rewards/{patient}", h.GetRewardBalance).Methods("GET")
}

func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return "", false
	}
	return principal, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

// StoreData handles patient record creation
func (h *Handlers) StoreData(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		DataReference types.ContentRef `json:"data_reference"`
		RecordType    string           `json:"record_type"`
		Version       uint64           `json:"version"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.StoreData(caller, req.DataReference, req.RecordType, req.Version); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

// UpdateData handles data reference replacement
func (h *Handlers) UpdateData(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		DataReference types.ContentRef `json:"data_reference"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.UpdateData(caller, req.DataReference); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GetRecord returns the record owned by a principal
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	record, err := h.service.Record(mux.Vars(r)["owner"])
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// GrantAccess authorizes a grantee to read the caller's record
func (h *Handlers) GrantAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Grantee string `json:"grantee"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.GrantAccess(caller, req.Grantee); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// RevokeAccess removes a grantee's authorization
func (h *Handlers) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeAccess(caller, mux.Vars(r)["grantee"]); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// CheckAccess reports whether a grant exists
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	granted, err := h.service.CheckAccess(vars["owner"], vars["grantee"])
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

// SetConsentPreferences replaces the caller's consent flags
func (h *Handlers) SetConsentPreferences(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var prefs types.ConsentPreferences
	if !h.decode(w, r, &prefs) {
		return
	}
	if err := h.service.SetConsentPreferences(caller, prefs); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

// GetConsentPreferences returns a patient's consent flags
func (h *Handlers) GetConsentPreferences(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	prefs, err := h.service.ConsentPreferences(mux.Vars(r)["patient"])
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

// RegisterProviderCredentials upserts the caller's credential
func (h *Handlers) RegisterProviderCredentials(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		InstitutionName string           `json:"institution_name"`
		CredentialHash  types.ContentRef `json:"credential_hash"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RegisterProviderCredentials(caller, req.InstitutionName, req.CredentialHash); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// VerifyProviderCredentials marks a provider as verified
func (h *Handlers) VerifyProviderCredentials(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.service.VerifyProviderCredentials(caller, mux.Vars(r)["provider"]); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// GetProviderCredential returns a provider's credential
func (h *Handlers) GetProviderCredential(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	credential, err := h.service.ProviderCredential(mux.Vars(r)["provider"])
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, credential)
}

// SubmitResearchProposal creates a proposal owned by the caller
func (h *Handlers) SubmitResearchProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		ProposalID    uint64   `json:"proposal_id"`
		Title         string   `json:"title"`
		Description   string   `json:"description"`
		DataFields    []string `json:"data_fields"`
		FundingAmount uint64   `json:"funding_amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SubmitResearchProposal(caller, req.ProposalID, req.Title, req.Description, req.DataFields, req.FundingAmount); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "submitted"})
}

func (h *Handlers) proposalVars(w http.ResponseWriter, r *http.Request) (string, uint64, bool) {
	vars := mux.Vars(r)
	proposalID, err := strconv.ParseUint(vars["proposalID"], 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid proposal id")
		return "", 0, false
	}
	return vars["researcher"], proposalID, true
}

// ApproveResearchProposal approves a submitted proposal
func (h *Handlers) ApproveResearchProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	researcher, proposalID, ok := h.proposalVars(w, r)
	if !ok {
		return
	}
	if err := h.service.ApproveResearchProposal(caller, researcher, proposalID); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectResearchProposal rejects a submitted proposal
func (h *Handlers) RejectResearchProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	researcher, proposalID, ok := h.proposalVars(w, r)
	if !ok {
		return
	}
	if err := h.service.RejectResearchProposal(caller, researcher, proposalID); err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// GetResearchProposal returns a proposal
func (h *Handlers) GetResearchProposal(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	researcher, proposalID, ok := h.proposalVars(w, r)
	if !ok {
		return
	}
	proposal, err := h.service.ResearchProposal(researcher, proposalID)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, proposal)
}

// LogDataAccess appends an access event to the audit trail
func (h *Handlers) LogDataAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Patient        string   `json:"patient"`
		Accessor       string   `json:"accessor"`
		FieldsAccessed []string `json:"fields_accessed"`
		Purpose        string   `json:"purpose"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	seq, err := h.service.LogDataAccess(r.Context(), caller, req.Patient, req.Accessor, req.FieldsAccessed, req.Purpose)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]uint64{"sequence": seq})
}

// RequestDataAccess evaluates and logs an access request
func (h *Handlers) RequestDataAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Patient         string   `json:"patient"`
		FieldsRequested []string `json:"fields_requested"`
		Purpose         string   `json:"purpose"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	seq, err := h.service.RequestDataAccess(r.Context(), caller, req.Patient, req.FieldsRequested, req.Purpose)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]uint64{"sequence": seq})
}

// GetAuditTrail returns a patient's access events. With ?source=offchain the
// read model serves the query instead of ledger state.
func (h *Handlers) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	patient := mux.Vars(r)["patient"]

	var entries []types.DataAccessLogEntry
	var err error
	if r.URL.Query().Get("source") == "offchain" {
		entries, err = h.service.OffchainAuditTrail(r.Context(), caller, patient)
	} else {
		entries, err = h.service.AuditTrail(caller, patient)
	}
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient": patient,
		"entries": entries,
	})
}

// RecordResearchContribution records a data use and returns the reward
func (h *Handlers) RecordResearchContribution(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Researcher string `json:"researcher"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	reward, err := h.service.RecordResearchContribution(caller, req.Researcher)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]uint64{"reward": reward})
}

// GetContribution returns a (patient, researcher) contribution record
func (h *Handlers) GetContribution(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	contribution, err := h.service.Contribution(vars["patient"], vars["researcher"])
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contribution)
}

// GetRewardBalance returns a patient's cumulative rewards
func (h *Handlers) GetRewardBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	patient := mux.Vars(r)["patient"]
	balance, err := h.service.RewardBalance(patient)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient": patient,
		"balance": balance,
	})
}

// statusForError maps exchange error kinds to HTTP status codes.
func statusForError(err error) int {
	switch types.KindOf(err) {
	case types.KindUnauthorized, types.KindUnverified:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindAlreadyExists, types.KindInvalidState:
		return http.StatusConflict
	case types.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeExchangeError(w http.ResponseWriter, err error) {
	var exchangeErr *types.ExchangeError
	if errors.As(err, &exchangeErr) {
		h.writeError(w, statusForError(err), string(exchangeErr.Kind), exchangeErr.Message)
		return
	}
	h.logger.WithFields(map[string]interface{}{"error": err}).Error("Unhandled service error")
	h.writeError(w, http.StatusInternalServerError, string(types.KindInternal), "internal error")
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithFields(map[string]interface{}{"error": err}).Error("Failed to encode response")
	}
}
