package portal

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"coursewatch/internal/domain"
)

var (
	bracketSuffix = regexp.MustCompile(`\s*\[[^\]]*\]\s*$`)
	gradeExpr     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`)
	onclickURL    = regexp.MustCompile(`window\.location\s*=\s*'([^']+)'`)
)

const (
	commentOpen  = "<!--comment-->"
	commentClose = "<!--/comment-->"
)

// correlateCourses joins the two navigation collections on course id.
// Entries without a positive last-activity timestamp are dropped; the
// result is sorted by recency descending.
func correlateCourses(payload navigationPayload, base string) []domain.Course {
	type activity struct {
		updated  int64
		redirect string
	}

	recent := make(map[string]activity, len(payload.Data.Activity))
	for _, a := range payload.Data.Activity {
		recent[a.ID] = activity{updated: a.LastUpdated, redirect: a.Redirect}
	}

	courses := make([]domain.Course, 0, len(payload.Data.Courses))
	for _, entry := range payload.Data.Courses {
		act, ok := recent[entry.ID]
		if !ok || act.updated <= 0 {
			continue
		}
		courses = append(courses, domain.Course{
			ID:        entry.ID,
			Name:      simplifyName(entry.Title),
			ClassURL:  absolute(base, entry.Link),
			GradesURL: absolute(base, act.redirect),
			UpdatedAt: time.Unix(act.updated, 0).UTC(),
		})
	}

	sort.Slice(courses, func(i, j int) bool {
		return courses[i].UpdatedAt.After(courses[j].UpdatedAt)
	})
	return courses
}

// simplifyName strips a trailing bracketed section code, if present.
func simplifyName(name string) string {
	return strings.TrimSpace(bracketSuffix.ReplaceAllString(name, ""))
}

func (c *Client) extractAssignments(doc *goquery.Document) []domain.Assignment {
	var assignments []domain.Assignment

	doc.Find("tr.item-row").Each(func(_ int, row *goquery.Selection) {
		a, ok := c.parseAssignmentRow(row)
		if ok {
			assignments = append(assignments, a)
		}
	})

	// Canonical display order is the row cursor, not status or date.
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].Position < assignments[j].Position
	})
	return assignments
}

func (c *Client) parseAssignmentRow(row *goquery.Selection) (domain.Assignment, bool) {
	label := strings.TrimSpace(row.Find("td.status").First().Text())
	if label == "" {
		// Decorative row (period header, spacer).
		return domain.Assignment{}, false
	}

	status, ok := statusFromLabel(label)
	if !ok {
		status = domain.StatusNotAvailable
	}

	a := domain.Assignment{
		Name:   strings.TrimSpace(row.Find("td.title").First().Text()),
		Status: status,
		Grade:  parseGrade(row.Find("td.grade").First().Text()),
	}

	a.ID, _ = row.Attr("data-id")
	if pos, exists := row.Attr("data-position"); exists {
		a.Position, _ = strconv.Atoi(strings.TrimSpace(pos))
	}
	if updated, exists := row.Attr("data-updated"); exists {
		if ts, err := strconv.ParseInt(strings.TrimSpace(updated), 10, 64); err == nil && ts > 0 {
			a.UpdatedAt = time.Unix(ts, 0).UTC()
		}
	}
	if onclick, exists := row.Attr("onclick"); exists {
		if m := onclickURL.FindStringSubmatch(onclick); m != nil {
			a.URL = m[1]
		}
	}
	if deadline := strings.TrimSpace(row.Find("td.due").First().Text()); deadline != "" {
		a.Deadline = c.parseDeadline(deadline)
	}
	if handler, exists := row.Find("td.comment span").First().Attr("onclick"); exists {
		if comments := extractComments(handler); comments != "" {
			if a.Grade == nil {
				a.Grade = &domain.Grade{}
			}
			a.Grade.Comments = comments
		}
	}

	return a, true
}

// parseGrade reads a "score / possible" fragment, tolerating whitespace and
// newline noise. Anything that does not resolve to two numbers yields nil.
func parseGrade(text string) *domain.Grade {
	m := gradeExpr.FindStringSubmatch(strings.Join(strings.Fields(text), " "))
	if m == nil {
		return nil
	}

	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	possible, err := strconv.ParseFloat(m[2], 64)
	if err != nil || possible == 0 {
		return nil
	}

	return &domain.Grade{
		Score:    score,
		Possible: possible,
		Percent:  math.Round(score/possible*100*100) / 100,
	}
}

// extractComments pulls instructor feedback embedded between delimiter
// markers inside an inline click-handler attribute.
func extractComments(handler string) string {
	start := strings.Index(handler, commentOpen)
	if start < 0 {
		return ""
	}
	rest := handler[start+len(commentOpen):]
	end := strings.Index(rest, commentClose)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func statusFromLabel(label string) (domain.AssignmentStatus, bool) {
	switch strings.ToLower(strings.Join(strings.Fields(label), " ")) {
	case "upcoming":
		return domain.StatusUpcoming, true
	case "submitted":
		return domain.StatusSubmitted, true
	case "past due", "overdue", "missing":
		return domain.StatusPastDue, true
	case "graded":
		return domain.StatusGraded, true
	case "not available":
		return domain.StatusNotAvailable, true
	}
	return "", false
}

var deadlineLayouts = []string{
	"01/02/2006 3:04pm",
	"01/02/2006 15:04",
	"01/02/2006",
}

func (c *Client) parseDeadline(text string) time.Time {
	text = strings.Join(strings.Fields(text), " ")
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, text, c.loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func absolute(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return base + href
}
