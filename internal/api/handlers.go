package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/graphops/graphix/internal/agreement"
	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

// --- Queries (spec §6.3) ---

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := s.store.ListNetworks(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, networks, nil)
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var networkID int64
	if v := q.Get("networkId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "networkId must be an integer")
			return
		}
		networkID = n
	}

	deployments, err := s.store.ListDeployments(r.Context(), store.DeploymentFilter{
		IpfsCid:   q.Get("ipfsCid"),
		NetworkID: networkID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, deployments, nil)
}

func (s *Server) handleIndexers(w http.ResponseWriter, r *http.Request) {
	var addr models.Address20
	if v := r.URL.Query().Get("address"); v != "" {
		parsed, err := models.ParseAddress20(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "address: "+err.Error())
			return
		}
		addr = parsed
	}

	indexers, err := s.store.ListIndexers(r.Context(), store.IndexerFilter{Address: addr})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, indexers, nil)
}

func (s *Server) handleProofsOfIndexing(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePoiFilter(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	pois, err := s.store.ListPois(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, pois, nil)
}

func (s *Server) handleLiveProofsOfIndexing(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePoiFilter(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	pois, err := s.store.ListLivePois(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, pois, nil)
}

func parsePoiFilter(r *http.Request) (store.PoiFilter, error) {
	q := r.URL.Query()
	var filter store.PoiFilter
	filter.DeploymentCid = q.Get("deployment")

	if v := q.Get("indexerAddress"); v != "" {
		addr, err := models.ParseAddress20(v)
		if err != nil {
			return store.PoiFilter{}, errors.New("indexerAddress: " + err.Error())
		}
		filter.IndexerAddr = addr
	}
	if v := q.Get("block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return store.PoiFilter{}, errors.New("block must be an unsigned integer")
		}
		filter.BlockNumber = n
	}
	return filter, nil
}

// handlePoiAgreementRatios computes agreement ratios (spec §4.2) over the
// current live-PoI set for one deployment; the indexerAddress query param,
// when present, filters the output to that one indexer's row, matching
// spec.md §6.3's `poiAgreementRatios(indexerAddress)` signature while still
// needing the deployment to scope the comparison set S.
func (s *Server) handlePoiAgreementRatios(w http.ResponseWriter, r *http.Request) {
	deployment := r.URL.Query().Get("deployment")
	if deployment == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "deployment query parameter is required")
		return
	}

	var filterAddr models.Address20
	hasFilterAddr := false
	if v := r.URL.Query().Get("indexerAddress"); v != "" {
		addr, err := models.ParseAddress20(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "indexerAddress: "+err.Error())
			return
		}
		filterAddr, hasFilterAddr = addr, true
	}

	live, err := s.store.LivePoisForDeployment(r.Context(), deployment)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	ratios := agreement.Compute(deployment, live)
	if !hasFilterAddr {
		writeAPIResponse(w, http.StatusOK, ratios, nil)
		return
	}

	filtered := make([]models.PoiAgreementRatio, 0, 1)
	for i, v := range live {
		if v.IndexerAddr == filterAddr {
			filtered = append(filtered, ratios[i])
		}
	}
	writeAPIResponse(w, http.StatusOK, filtered, nil)
}

func (s *Server) handleDivergenceInvestigationReport(w http.ResponseWriter, r *http.Request) {
	reqUUID := mux.Vars(r)["uuid"]

	report, err := s.store.GetInvestigationReport(r.Context(), reqUUID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if report != nil {
		var decoded models.InvestigationReport
		if jsonErr := json.Unmarshal(report.Report, &decoded); jsonErr != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "decode stored report: "+jsonErr.Error())
			return
		}
		writeAPIResponse(w, http.StatusOK, map[string]interface{}{
			"uuid":   reqUUID,
			"status": models.InvestigationComplete,
			"report": decoded,
		}, nil)
		return
	}

	pending, err := s.store.HasPendingInvestigation(r.Context(), reqUUID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := models.InvestigationPending
	if !pending {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no investigation with that uuid")
		return
	}
	writeAPIResponse(w, http.StatusOK, map[string]interface{}{"uuid": reqUUID, "status": status}, nil)
}

// --- Mutations (spec §6.3) ---

// handleLaunchDivergenceInvestigation enqueues a new request (spec §4.3).
// Bad input is rejected synchronously with InvestigationInputInvalid; the
// bisection work itself happens later, off the request, in
// internal/investigator.
func (s *Server) handleLaunchDivergenceInvestigation(w http.ResponseWriter, r *http.Request) {
	var req models.InvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "decode request body: "+err.Error())
		return
	}
	if len(req.Pois) < 2 {
		writeAPIError(w, http.StatusBadRequest, graphixerr.Code(graphixerr.ErrInvestigationInputInvalid), "need at least 2 pois")
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "marshal request: "+err.Error())
		return
	}

	reqUUID := uuid.NewString()
	if err := s.store.EnqueueInvestigationRequest(r.Context(), reqUUID, payload); err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusAccepted, map[string]string{"uuid": reqUUID}, nil)
}

type setDeploymentNameRequest struct {
	IpfsCid string `json:"ipfsCid"`
	Name    string `json:"name"`
}

func (s *Server) handleSetDeploymentName(w http.ResponseWriter, r *http.Request) {
	var req setDeploymentNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "decode request body: "+err.Error())
		return
	}
	if req.IpfsCid == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "ipfsCid is required")
		return
	}
	if err := s.store.SetDeploymentName(r.Context(), req.IpfsCid, req.Name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, map[string]bool{"ok": true}, nil)
}

type deleteNetworkRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleDeleteNetwork(w http.ResponseWriter, r *http.Request) {
	var req deleteNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "decode request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "name is required")
		return
	}
	if err := s.store.DeleteNetwork(r.Context(), req.Name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, map[string]bool{"ok": true}, nil)
}

// writeStoreError maps a Store error onto an HTTP status and the
// graphixerr.Code machine code (spec §7) via errors.Is.
func writeStoreError(w http.ResponseWriter, err error) {
	code := graphixerr.Code(err)
	status := http.StatusInternalServerError
	if errors.Is(err, graphixerr.ErrInvestigationInputInvalid) {
		status = http.StatusBadRequest
	}
	writeAPIError(w, status, code, err.Error())
}
