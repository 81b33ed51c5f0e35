// Package portal implements the remote learning-management contract: a
// fixed base URL, a session cookie attached per request, a stream-viewer
// POST for the course collections, and HTML scraping for grades pages.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"coursewatch/internal/domain"
	"coursewatch/internal/ports"
)

const (
	navigationPath = "/iapi2/site-navigation/courses"
	homePath       = "/home"
	userAgent      = "coursewatch/1.0"
)

// Client scrapes the portal over plain HTTP with the caller's session cookie.
type Client struct {
	base   string
	http   *http.Client
	loc    *time.Location
	logger *slog.Logger
}

var _ ports.Gateway = (*Client)(nil)

// NewClient wires an HTTP client against the portal base URL. A nil client
// gets a 20 second timeout; a nil location defaults to UTC.
func NewClient(baseURL string, client *http.Client, loc *time.Location, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		http:   client,
		loc:    loc,
		logger: logger,
	}
}

// Validate loads the portal home page with the candidate credential and
// scrapes the signed-in display name. An empty name with a nil error means
// the portal served the page but did not recognize the session.
func (c *Client) Validate(ctx context.Context, credential string) (string, error) {
	doc, err := c.fetchDocument(ctx, http.MethodGet, c.base+homePath, credential)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(doc.Find(".user-name").First().Text())
	return name, nil
}

// navigationPayload is the stream-viewer response. The courses collection
// supplies names and home links; the activity collection supplies grades
// redirects and last-activity timestamps. Both are keyed by course id.
type navigationPayload struct {
	Data struct {
		Courses []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Link  string `json:"link"`
		} `json:"courses"`
		Activity []struct {
			ID          string `json:"id"`
			LastUpdated int64  `json:"last_updated"`
			Redirect    string `json:"redirect"`
		} `json:"activity"`
	} `json:"data"`
}

// FetchCourses posts to the stream-viewer endpoint and correlates the two
// course collections, sorted by recency descending.
func (c *Client) FetchCourses(ctx context.Context, credential string) ([]domain.Course, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+navigationPath, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.decorate(req, credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: navigation returned %s", domain.ErrRemote, resp.Status)
	}

	var payload navigationPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode navigation payload: %v", domain.ErrRemote, err)
	}

	return correlateCourses(payload, c.base), nil
}

// FetchAssignments scrapes the course grades page into assignment records
// sorted by their position cursor.
func (c *Client) FetchAssignments(ctx context.Context, credential string, course domain.Course) ([]domain.Assignment, error) {
	doc, err := c.fetchDocument(ctx, http.MethodGet, c.absoluteURL(course.GradesURL), credential)
	if err != nil {
		return nil, err
	}

	return c.extractAssignments(doc), nil
}

// FetchAssignmentDetail loads one assignment page to resolve the grade and
// feedback the table row left ambiguous.
func (c *Client) FetchAssignmentDetail(ctx context.Context, credential string, a domain.Assignment) (domain.Assignment, error) {
	if a.URL == "" {
		return a, nil
	}

	doc, err := c.fetchDocument(ctx, http.MethodGet, c.absoluteURL(a.URL), credential)
	if err != nil {
		return a, err
	}

	if label := strings.TrimSpace(doc.Find(".status-label").First().Text()); label != "" {
		if status, ok := statusFromLabel(label); ok {
			a.Status = status
		}
	}
	if grade := parseGrade(doc.Find(".grade-detail").First().Text()); grade != nil {
		if a.Grade != nil && a.Grade.Comments != "" && grade.Comments == "" {
			grade.Comments = a.Grade.Comments
		}
		a.Grade = grade
	}
	if comments := strings.TrimSpace(doc.Find(".comment-body").First().Text()); comments != "" {
		if a.Grade == nil {
			a.Grade = &domain.Grade{}
		}
		a.Grade.Comments = comments
	}

	return a, nil
}

func (c *Client) fetchDocument(ctx context.Context, method, pageURL, credential string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, method, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.decorate(req, credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemote, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: portal returned %s", domain.ErrRemote, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", domain.ErrRemote, err)
	}

	return doc, nil
}

func (c *Client) decorate(req *http.Request, credential string) {
	req.Header.Set("User-Agent", userAgent)
	if credential != "" {
		req.Header.Set("Cookie", credential)
	}
}

func (c *Client) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return c.base + href
}
