package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/lib/pq"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/export"
	"github.com/vulnhawk/vulnhawk/internal/modules"
)

// createScanRequest is the scan submission payload. The module list is only
// honored for the CUSTOM profile; named profiles carry fixed subsets.
type createScanRequest struct {
	TargetID    string         `json:"targetId" validate:"required,uuid4"`
	Profile     string         `json:"profile" validate:"required,oneof=QUICK STANDARD DEEP CUSTOM"`
	Modules     []string       `json:"modules,omitempty"`
	ScanConfig  *db.ScanConfig `json:"scanConfig,omitempty"`
	RequestedBy *string        `json:"requestedBy,omitempty"`
	// Force skips the ownership-verification gate for the target.
	Force bool `json:"force,omitempty"`
}

// createScanHandler validates a submission and enqueues a QUEUED scan. All
// rejections here happen before any scan state exists.
func (s *Server) createScanHandler(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}

	targetID, err := parseUUIDField(req.TargetID, "targetId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := s.store.Targets.GetByID(r.Context(), targetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !target.IsVerified() && !req.Force {
		s.writeError(w, r, errors.ErrTargetUnverified(target.Value))
		return
	}

	resolved, err := modules.Resolve(req.Profile, req.Modules)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Profile != db.ProfileCustom && len(req.Modules) > 0 {
		s.writeError(w, r, errors.NewFieldValidationError(
			"Module list is only allowed with the CUSTOM profile", "modules", req.Modules))
		return
	}

	var cfg db.JSONB
	if req.ScanConfig != nil {
		if err := validateScanConfig(req.ScanConfig); err != nil {
			s.writeError(w, r, err)
			return
		}
		cfg, err = db.NewJSONB(req.ScanConfig)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	scan := &db.Scan{
		TargetID:    targetID,
		RequestedBy: req.RequestedBy,
		Type:        db.ScanTypeOnDemand,
		Profile:     req.Profile,
		Modules:     pq.StringArray(resolved),
		Config:      cfg,
	}
	if err := s.store.Scans.Create(r.Context(), scan); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Scan queued",
		"scan_id", scan.ID, "target", target.Value, "profile", scan.Profile)
	s.writeJSON(w, r, http.StatusCreated, scan)
}

// validateScanConfig bounds the caller-supplied run-time knobs.
func validateScanConfig(cfg *db.ScanConfig) error {
	if cfg.MaxConcurrent < 0 || cfg.MaxConcurrent > 10 {
		return errors.NewFieldValidationError(
			"maxConcurrent must be between 0 and 10", "scanConfig.maxConcurrent", cfg.MaxConcurrent)
	}
	if cfg.RequestDelay < 0 || cfg.RequestDelay > 10000 {
		return errors.NewFieldValidationError(
			"requestDelay must be between 0 and 10000 milliseconds", "scanConfig.requestDelay", cfg.RequestDelay)
	}
	return nil
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	targetID, err := queryUUID(r, "target_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page := pagination(r)

	scans, err := s.store.Scans.List(r.Context(), db.ScanFilters{
		TargetID: targetID,
		Status:   r.URL.Query().Get("status"),
		Limit:    page.PageSize,
		Offset:   page.Offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"data":      scans,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	scan, err := s.store.Scans.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, scan)
}

// cancelScanHandler requests cancellation. QUEUED scans cancel immediately;
// RUNNING scans stop cooperatively at the engine's next checkpoint.
func (s *Server) cancelScanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.store.Scans.RequestCancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Scan cancellation requested", "scan_id", id, "status", status)
	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"scan_id": id,
		"status":  status,
	})
}

func (s *Server) listScanModulesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.Scans.GetByID(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.store.ModuleResults.ListByScan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": results})
}

func (s *Server) listScanFindingsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.Scans.GetByID(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	findings, err := s.store.Findings.ListByScan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": findings})
}

// exportSARIFHandler produces the SARIF document for a COMPLETED scan.
// Non-terminal scans have an unstable finding set and are refused.
func (s *Server) exportSARIFHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	scan, err := s.store.Scans.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if scan.Status != db.ScanStatusCompleted {
		s.writeError(w, r, errors.NewScanError(errors.CodeExportUnavailable,
			fmt.Sprintf("Export requires a COMPLETED scan; scan is %s", scan.Status)))
		return
	}

	findings, err := s.store.Findings.ListByScan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteSARIF(&buf, findings); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/sarif+json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="scan-%s.sarif"`, id))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("Failed to write SARIF export", "scan_id", id, "error", err)
	}
}

func (s *Server) listModulesHandler(w http.ResponseWriter, r *http.Request) {
	catalog := modules.Catalog()
	descriptions := make([]map[string]string, 0, len(catalog))
	for _, name := range catalog {
		module, err := modules.New(name)
		if err != nil {
			continue
		}
		descriptions = append(descriptions, map[string]string{
			"name":        module.Name(),
			"description": module.Description(),
		})
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": descriptions})
}

func (s *Server) listProfilesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": modules.Profiles()})
}
