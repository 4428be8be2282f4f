package api

import (
	"net/http"
	"strings"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/scoring"
)

var validFindingStatuses = map[string]bool{
	db.FindingStatusOpen:          true,
	db.FindingStatusInProgress:    true,
	db.FindingStatusConfirmed:     true,
	db.FindingStatusFalsePositive: true,
	db.FindingStatusAccepted:      true,
	db.FindingStatusFixed:         true,
}

var validSeverities = map[string]bool{
	db.SeverityCritical: true,
	db.SeverityHigh:     true,
	db.SeverityMedium:   true,
	db.SeverityLow:      true,
	db.SeverityInfo:     true,
}

func (s *Server) listFindingsHandler(w http.ResponseWriter, r *http.Request) {
	targetID, err := queryUUID(r, "target_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assetID, err := queryUUID(r, "asset_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	severity := strings.ToUpper(query.Get("severity"))
	if severity != "" && !validSeverities[severity] {
		s.writeError(w, r, errors.NewFieldValidationError(
			"Unknown severity", "severity", severity))
		return
	}
	status := strings.ToUpper(query.Get("status"))
	if status != "" && !validFindingStatuses[status] {
		s.writeError(w, r, errors.NewFieldValidationError(
			"Unknown finding status", "status", status))
		return
	}

	page := pagination(r)
	findings, err := s.store.Findings.List(r.Context(), db.FindingFilters{
		TargetID: targetID,
		AssetID:  assetID,
		Severity: severity,
		Status:   status,
		Category: strings.ToUpper(query.Get("category")),
		Limit:    page.PageSize,
		Offset:   page.Offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"data":      findings,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

// groupFindingsHandler counts a target's findings bucketed by severity,
// category, or asset.
func (s *Server) groupFindingsHandler(w http.ResponseWriter, r *http.Request) {
	targetID, err := queryUUID(r, "target_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if targetID == nil {
		s.writeError(w, r, errors.NewFieldValidationError(
			"target_id query parameter is required", "target_id", nil))
		return
	}

	groupBy := r.URL.Query().Get("by")
	switch groupBy {
	case "severity", "category", "asset":
	default:
		s.writeError(w, r, errors.NewFieldValidationError(
			"by must be one of severity, category, asset", "by", groupBy))
		return
	}

	counts, err := s.store.Findings.CountGrouped(r.Context(), *targetID, groupBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"group_by": groupBy,
		"data":     counts,
	})
}

type updateFindingStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// updateFindingStatusHandler applies a triage decision to a finding.
func (s *Server) updateFindingStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req updateFindingStatusRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := strings.ToUpper(req.Status)
	if !validFindingStatuses[status] {
		s.writeError(w, r, errors.NewFieldValidationError(
			"Unknown finding status", "status", req.Status))
		return
	}

	if err := s.store.Findings.UpdateStatus(r.Context(), id, status); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"finding_id": id,
		"status":     status,
	})
}

type reclassifyFindingRequest struct {
	Severity string `json:"severity" validate:"required"`
}

// reclassifyFindingHandler overrides a finding's severity. Manual
// reclassification wins over automated escalation until the next recurrence.
func (s *Server) reclassifyFindingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req reclassifyFindingRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	severity := strings.ToUpper(req.Severity)
	if !validSeverities[severity] {
		s.writeError(w, r, errors.NewFieldValidationError(
			"Unknown severity", "severity", req.Severity))
		return
	}

	finding, err := s.store.Findings.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cvss := scoring.EstimateCVSS(finding.Category, severity)
	if err := s.store.Findings.Reclassify(r.Context(), id, severity, &cvss); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"finding_id": id,
		"severity":   severity,
		"cvss_score": cvss,
	})
}
