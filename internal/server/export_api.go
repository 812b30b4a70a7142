package server

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// handleExport streams the requested entity set as UTF-8 CSV with a
// header row. Listings go through the same scoped stores as the JSON
// APIs, so tenancy and visibility rules carry over unchanged.
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	var (
		header []string
		rows   [][]string
		err    error
	)
	switch entity {
	case "problems":
		header = []string{"code", "title", "priority", "status", "issue_type", "ai_confidence", "created_at"}
		rows, err = h.exportProblems(r)
	case "cases":
		header = []string{"code", "title", "status", "project_type", "priority", "cost_estimate", "benefit_estimate", "roi_percent", "created_at"}
		rows, err = h.exportCases(r)
	case "projects":
		header = []string{"code", "name", "status", "priority", "start_date", "planned_end", "created_at"}
		rows, err = h.exportProjects(r)
	default:
		writeError(w, r, h.log, httperr.NewFieldError("entity", "must be problems, cases or projects"))
		return
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+entity+`.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(header)
	for _, row := range rows {
		_ = cw.Write(row)
	}
	cw.Flush()
}

func (h *handler) exportProblems(r *http.Request) ([][]string, error) {
	f, err := h.problemFilter(r)
	if err != nil {
		return nil, err
	}
	problems, err := h.stores.Problems().List(r.Context(), f)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(problems))
	for _, p := range problems {
		rows = append(rows, []string{
			p.Code, p.Title, string(p.Priority), string(p.Status), string(p.IssueType),
			strconv.FormatFloat(p.AIConfidence, 'f', 2, 64),
			p.CreatedAt.UTC().Format(dateLayout),
		})
	}
	return rows, nil
}

func (h *handler) exportCases(r *http.Request) ([][]string, error) {
	cases, err := h.stores.Cases().List(r.Context())
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(cases))
	for _, c := range cases {
		rows = append(rows, []string{
			c.Code, c.Title, string(c.Status), string(c.ProjectType), string(c.Priority),
			strconv.FormatFloat(c.CostEstimate, 'f', 2, 64),
			strconv.FormatFloat(c.BenefitEstimate, 'f', 2, 64),
			strconv.FormatFloat(c.ROIPercent, 'f', 2, 64),
			c.CreatedAt.UTC().Format(dateLayout),
		})
	}
	return rows, nil
}

func (h *handler) exportProjects(r *http.Request) ([][]string, error) {
	projects, err := h.stores.Projects().List(r.Context())
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		start, end := "", ""
		if p.StartDate != nil {
			start = p.StartDate.UTC().Format(dateLayout)
		}
		if p.PlannedEnd != nil {
			end = p.PlannedEnd.UTC().Format(dateLayout)
		}
		rows = append(rows, []string{
			p.Code, p.Name, string(p.Status), string(p.Priority), start, end,
			p.CreatedAt.UTC().Format(dateLayout),
		})
	}
	return rows, nil
}
