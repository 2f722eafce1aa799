package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"brandgen/internal/admission"
	"brandgen/internal/artifacts"
	"brandgen/internal/domain"
	"brandgen/internal/middleware"
	"brandgen/pkg/zip"
)

const maxRequestBody = 64 << 10

type createJobRequest struct {
	OwnerID  string          `json:"ownerID"`
	EntityID *string         `json:"entityID"`
	TaskType domain.TaskType `json:"taskType"`
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority"`
}

type jobResponse struct {
	JobID        string           `json:"jobID"`
	Status       domain.JobStatus `json:"status"`
	SupersedesID *string          `json:"supersedesID,omitempty"`
}

func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		a.fail(w, r, domain.Invalid("body", "invalid JSON"))
		return
	}
	if req.OwnerID != "" && req.OwnerID != userID {
		a.error(w, http.StatusUnauthorized, domain.CodeUnauthorized, "ownerID does not match the token")
		return
	}
	admitted, err := a.Admission.Admit(r.Context(), admission.Request{
		OwnerID:  userID,
		EntityID: req.EntityID,
		TaskType: req.TaskType,
		Payload:  withDefaultLocale(req.Payload, middleware.LocaleFromContext(r.Context())),
		Priority: req.Priority,
		ClientIP: middleware.ClientIP(r),
		Country:  middleware.CountryFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: admitted.JobID, Status: admitted.Status})
}

func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) JobRegenerate(w http.ResponseWriter, r *http.Request) {
	admitted, err := a.Admission.Regenerate(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"), middleware.ClientIP(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{
		JobID:        admitted.JobID,
		Status:       admitted.Status,
		SupersedesID: admitted.Job.SupersedesID,
	})
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := a.Admission.Cancel(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: job.Status})
}

// JobArchive streams every artifact of a completed job as one zip file.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.loadJobForUser(r.Context(), jobID, a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Status != domain.JobStatusComplete || job.Result == nil || len(job.Result.Artifacts) == 0 {
		a.error(w, http.StatusNotFound, domain.CodeNotFound, "job has no artifacts")
		return
	}
	assets := make([]zip.Asset, 0, len(job.Result.Artifacts))
	for _, art := range job.Result.Artifacts {
		data, err := a.Artifacts.Get(r.Context(), art.Key)
		if err != nil {
			a.fail(w, r, fmt.Errorf("load artifact %s: %w", art.Key, err))
			return
		}
		assets = append(assets, zip.Asset{Filename: path.Base(art.Key), MIME: art.MIME, Data: data})
	}
	if manifest, ok, err := artifacts.LoadManifest(r.Context(), a.Artifacts, jobID); err == nil && ok {
		if raw, err := json.MarshalIndent(manifest, "", "  "); err == nil {
			assets = append(assets, zip.Asset{Filename: "manifest.json", MIME: "application/json", Data: raw})
		}
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// withDefaultLocale fills payload.locale from the negotiated request locale
// when the caller left it out. Anything that is not a JSON object passes
// through untouched for admission to reject.
func withDefaultLocale(raw json.RawMessage, locale string) json.RawMessage {
	if locale == "" || len(bytes.TrimSpace(raw)) == 0 {
		return raw
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw
	}
	if v, ok := fields["locale"]; ok && string(v) != `""` && string(v) != "null" {
		return raw
	}
	fields["locale"], _ = json.Marshal(locale)
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}
