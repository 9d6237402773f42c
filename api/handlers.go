package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"

	"cpi_pulse/ingest"
	"cpi_pulse/models"
	"cpi_pulse/services"
)

const maxUploadSize = 64 << 20

type refreshResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeError(w, r, http.StatusInternalServerError, "source URL not configured")
		return
	}
	s.submit(w, r, s.source)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		if writeTooLarge(w, r, err) {
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if writeTooLarge(w, r, err) {
			return
		}
		writeError(w, r, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, r, http.StatusBadRequest, "uploaded file is empty")
		return
	}
	s.submit(w, r, &ingest.BytesSource{Filename: header.Filename, Data: data})
}

// writeTooLarge answers 413 when err comes from the upload size limit.
func writeTooLarge(w http.ResponseWriter, r *http.Request, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
	return true
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, src ingest.Source) {
	job, err := s.refresher.Submit(r.Context(), src)
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, refreshResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) listClassifiers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.catalog.Classifiers(r.Context(), services.ClassifierQuery{
		Lang:     s.lang(r),
		Search:   q.Get("q"),
		Page:     cast.ToInt(q.Get("page")),
		PageSize: cast.ToInt(q.Get("page_size")),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

func (s *Server) kpi(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.analytics.KPI(r.Context(), q.Get("start"), q.Get("end"), s.lang(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codes := splitCodes(q.Get("codes"))
	if len(codes) == 0 {
		writeError(w, r, http.StatusBadRequest, "codes is required")
		return
	}
	res, err := s.analytics.Series(r.Context(), services.SeriesQuery{
		Codes:  codes,
		Start:  q.Get("start"),
		End:    q.Get("end"),
		Metric: metricParam(q.Get("metric")),
		Lang:   s.lang(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.analytics.Table(r.Context(), services.TableQuery{
		Codes:    splitCodes(q.Get("codes")),
		Start:    q.Get("start"),
		End:      q.Get("end"),
		Metric:   metricParam(q.Get("metric")),
		Lang:     s.lang(r),
		Page:     cast.ToInt(q.Get("page")),
		PageSize: cast.ToInt(q.Get("page_size")),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	res, err := s.catalog.Meta(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) lang(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	return s.defaultLang
}

// metricParam defaults to MoM when the parameter is absent.
func metricParam(v string) string {
	if v == "" {
		return string(services.MetricMoM)
	}
	return v
}

func splitCodes(v string) []string {
	var codes []string
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
