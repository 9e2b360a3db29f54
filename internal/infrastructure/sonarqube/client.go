package sonarqube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

const (
	defaultPageSize = 100
	// The issues search endpoint refuses to page past this many results.
	maxSearchResults = 10000
	retryMaxElapsed  = 30 * time.Second
)

// openStatuses are the SonarQube issue statuses treated as "still to fix".
var openStatuses = []string{"OPEN", "CONFIRMED", "REOPENED"}

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
}

type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

var _ ports.AnalysisService = (*Client)(nil)

func NewClient(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      strings.TrimSpace(cfg.Token),
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = retryMaxElapsed
			return bo
		},
	}
}

type searchResponse struct {
	Total  int `json:"total"`
	Paging struct {
		PageIndex int `json:"pageIndex"`
		PageSize  int `json:"pageSize"`
		Total     int `json:"total"`
	} `json:"paging"`
	Issues []searchIssue `json:"issues"`
}

type searchIssue struct {
	Key       string  `json:"key"`
	Rule      string  `json:"rule"`
	Severity  string  `json:"severity"`
	Component string  `json:"component"`
	Project   string  `json:"project"`
	Line      *int    `json:"line"`
	Message   *string `json:"message"`
	Status    string  `json:"status"`
}

// FetchOpenIssues returns one page (1-based) of unresolved issues for the project.
func (c *Client) FetchOpenIssues(ctx context.Context, projectKey string, page int) (ports.AnalysisPage, error) {
	if ctx == nil {
		return ports.AnalysisPage{}, errors.New("context is required")
	}
	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		return ports.AnalysisPage{}, errors.New("project key is required")
	}
	if page < 1 {
		page = 1
	}

	query := url.Values{}
	query.Set("componentKeys", projectKey)
	query.Set("statuses", strings.Join(openStatuses, ","))
	query.Set("p", strconv.Itoa(page))
	query.Set("ps", strconv.Itoa(c.pageSize))

	var resp searchResponse
	if err := c.getJSON(ctx, "/api/issues/search", query, &resp); err != nil {
		return ports.AnalysisPage{}, err
	}

	reports := make([]ports.AnalysisReport, 0, len(resp.Issues))
	for _, issue := range resp.Issues {
		project := issue.Project
		if project == "" {
			project = projectKey
		}
		reports = append(reports, ports.AnalysisReport{
			Key:        issue.Key,
			ProjectKey: project,
			Rule:       issue.Rule,
			Severity:   issue.Severity,
			FilePath:   ParseComponentPath(issue.Component),
			Line:       issue.Line,
			Message:    issue.Message,
		})
	}

	total := resp.Paging.Total
	if total == 0 {
		total = resp.Total
	}
	pageIndex := resp.Paging.PageIndex
	if pageIndex == 0 {
		pageIndex = page
	}
	pageSize := resp.Paging.PageSize
	if pageSize == 0 {
		pageSize = c.pageSize
	}
	seen := pageIndex * pageSize

	return ports.AnalysisPage{
		Reports: reports,
		HasMore: len(reports) > 0 && seen < total && seen < maxSearchResults,
	}, nil
}

// ParseComponentPath strips the "projectKey:" prefix from a component key.
func ParseComponentPath(component string) string {
	if _, path, ok := strings.Cut(component, ":"); ok {
		return path
	}
	return component
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("sonarqube responded %d", e.code)
	}
	return fmt.Sprintf("sonarqube responded %d: %s", e.code, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(errs.Wrap(err, "build sonarqube request"))
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(errs.Wrap(ctx.Err(), "sonarqube request"))
			}
			return errs.Wrap(err, "sonarqube request")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return statusErr
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return backoff.Permanent(fmt.Errorf("%w: %w", janitor.ErrAccessDenied, statusErr))
			default:
				return backoff.Permanent(statusErr)
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(errs.Wrap(err, "decode sonarqube response"))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return errs.WithStack(err)
	}
	return nil
}
