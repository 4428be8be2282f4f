package api

import (
	"net/http"

	"github.com/robfig/cron/v3"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/scoring"
)

// createTargetRequest is the payload for registering a new target. Targets
// start PENDING; verification is a separate workflow.
type createTargetRequest struct {
	OrgID          string  `json:"orgId" validate:"required,uuid4"`
	Value          string  `json:"value" validate:"required,min=1,max=253"`
	Type           string  `json:"type" validate:"required,oneof=DOMAIN IP CIDR"`
	DefaultProfile string  `json:"defaultProfile,omitempty" validate:"omitempty,oneof=QUICK STANDARD DEEP"`
	Schedule       *string `json:"schedule,omitempty"`
}

func (s *Server) createTargetHandler(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}
	if req.Schedule != nil && *req.Schedule != "" {
		if _, err := cron.ParseStandard(*req.Schedule); err != nil {
			s.writeError(w, r, errors.NewFieldValidationError(
				"Invalid cron schedule", "schedule", *req.Schedule))
			return
		}
	}

	orgID, err := parseUUIDField(req.OrgID, "orgId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	target := &db.Target{
		OrgID:          orgID,
		Value:          req.Value,
		Type:           req.Type,
		DefaultProfile: req.DefaultProfile,
		Schedule:       req.Schedule,
	}
	if err := s.store.Targets.Create(r.Context(), target); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, target)
}

func (s *Server) listTargetsHandler(w http.ResponseWriter, r *http.Request) {
	orgID, err := queryUUID(r, "org_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orgID == nil {
		s.writeError(w, r, errors.NewFieldValidationError(
			"org_id query parameter is required", "org_id", nil))
		return
	}

	targets, err := s.store.Targets.List(r.Context(), *orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": targets})
}

func (s *Server) getTargetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	target, err := s.store.Targets.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, target)
}

func (s *Server) listTargetAssetsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	assets, err := s.store.Assets.ListByTarget(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": assets})
}

// getTargetScoreHandler computes the live security score from the target's
// currently open findings.
func (s *Server) getTargetScoreHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.Targets.GetByID(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	counts, err := s.store.Findings.CountOpenByTarget(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"target_id":      id,
		"security_score": scoring.SecurityScore(counts),
		"open_findings":  counts,
	})
}
