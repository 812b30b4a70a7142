package workflow

import (
	"strconv"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

// Snapshot builders flatten entities into the string maps trigger
// conditions evaluate against. Only stable, condition-worthy fields are
// included; handlers reload fresh state for anything else.

func ProblemSnapshot(p *domain.Problem) map[string]map[string]string {
	return map[string]map[string]string{
		"problem": {
			"code":       p.Code,
			"title":      p.Title,
			"priority":   string(p.Priority),
			"status":     string(p.Status),
			"issue_type": string(p.IssueType),
		},
	}
}

func CaseSnapshot(c *domain.BusinessCase) map[string]map[string]string {
	return map[string]map[string]string{
		"case": {
			"code":     c.Code,
			"status":   string(c.Status),
			"priority": string(c.Priority),
			"title":    c.Title,
		},
	}
}

func ProjectSnapshot(p *domain.Project) map[string]map[string]string {
	return map[string]map[string]string{
		"project": {
			"code":     p.Code,
			"name":     p.Name,
			"status":   string(p.Status),
			"priority": string(p.Priority),
		},
	}
}

func MilestoneSnapshot(m *domain.Milestone) map[string]map[string]string {
	return map[string]map[string]string{
		"milestone": {
			"name":      m.Name,
			"completed": strconv.FormatBool(m.Completed),
			"due_date":  m.DueDate.Format("2006-01-02"),
		},
	}
}

// MergeSnapshots overlays later maps onto earlier ones, letting an
// event carry several entities at once.
func MergeSnapshots(snaps ...map[string]map[string]string) map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, s := range snaps {
		for entity, fields := range s {
			out[entity] = fields
		}
	}
	return out
}
