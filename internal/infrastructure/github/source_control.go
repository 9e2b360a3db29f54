package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

const (
	AuthToken = "token"
	AuthApp   = "app"
)

type Config struct {
	Auth           string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyFile string
	Owner          string
	Repo           string
	DefaultBranch  string
	// BaseURL points at a GitHub Enterprise host; empty means github.com.
	BaseURL string
}

// SourceControl implements ports.SourceControl against one GitHub repository.
type SourceControl struct {
	client        *github.Client
	owner         string
	repo          string
	defaultBranch string
}

var _ ports.SourceControl = (*SourceControl)(nil)

func NewSourceControl(cfg Config) (*SourceControl, error) {
	owner := strings.TrimSpace(cfg.Owner)
	repo := strings.TrimSpace(cfg.Repo)
	if owner == "" || repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	defaultBranch := strings.TrimSpace(cfg.DefaultBranch)
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(httpClient)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, errs.Wrap(err, "configure github base url")
		}
	}

	return &SourceControl{
		client:        client,
		owner:         owner,
		repo:          repo,
		defaultBranch: defaultBranch,
	}, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Auth)) {
	case "", AuthToken:
		token := strings.TrimSpace(cfg.Token)
		if token == "" {
			return http.DefaultClient, nil
		}
		return oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})), nil
	case AuthApp:
		tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyFile)
		if err != nil {
			return nil, errs.Wrap(err, "load github app key")
		}
		if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
			tr.BaseURL = baseURL + "/api/v3"
		}
		return &http.Client{Transport: tr}, nil
	default:
		return nil, fmt.Errorf("unsupported github auth %q", cfg.Auth)
	}
}

func (s *SourceControl) ReadFile(ctx context.Context, path string) (ports.FileRevision, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, &github.RepositoryContentGetOptions{
		Ref: s.defaultBranch,
	})
	if err != nil {
		return ports.FileRevision{}, classify(resp, err, "get contents of "+path, janitor.ErrFileNotFound)
	}
	if file == nil {
		return ports.FileRevision{}, fmt.Errorf("%w: %s is a directory", janitor.ErrFileNotFound, path)
	}

	content, err := file.GetContent()
	if err != nil {
		return ports.FileRevision{}, errs.Wrap(err, "decode file content")
	}
	return ports.FileRevision{Content: content, Revision: file.GetSHA()}, nil
}

// EnsureBranch creates the branch at the default-branch head, or force-resets
// it there when it already exists so a retried attempt starts clean.
func (s *SourceControl) EnsureBranch(ctx context.Context, name string) error {
	base, resp, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "refs/heads/"+s.defaultBranch)
	if err != nil {
		return classify(resp, err, "get default branch ref", nil)
	}

	ref := &github.Reference{
		Ref:    github.Ptr("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.Ptr(base.GetObject().GetSHA())},
	}
	_, resp, err = s.client.Git.CreateRef(ctx, s.owner, s.repo, ref)
	if err == nil {
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusUnprocessableEntity {
		return classify(resp, err, "create branch "+name, nil)
	}

	if _, resp, err := s.client.Git.UpdateRef(ctx, s.owner, s.repo, ref, true); err != nil {
		return classify(resp, err, "reset branch "+name, nil)
	}
	return nil
}

func (s *SourceControl) CommitFile(ctx context.Context, req ports.CommitRequest) error {
	_, resp, err := s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, req.Path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(req.Message),
		Content: []byte(req.Content),
		SHA:     github.Ptr(req.Revision),
		Branch:  github.Ptr(req.Branch),
	})
	if err != nil {
		return classify(resp, err, "commit "+req.Path, janitor.ErrFileNotFound)
	}
	return nil
}

// OpenChangeRequest opens a pull request from the branch into the default
// branch. An already-open pull request for the branch is returned as is.
func (s *SourceControl) OpenChangeRequest(ctx context.Context, input ports.ChangeRequestInput) (string, error) {
	pr, resp, err := s.client.PullRequests.Create(ctx, s.owner, s.repo, &github.NewPullRequest{
		Title: github.Ptr(input.Title),
		Head:  github.Ptr(input.Branch),
		Base:  github.Ptr(s.defaultBranch),
		Body:  github.Ptr(input.Body),
	})
	if err == nil {
		return pr.GetHTMLURL(), nil
	}
	if resp == nil || resp.StatusCode != http.StatusUnprocessableEntity {
		return "", classify(resp, err, "create pull request", nil)
	}

	existing, listResp, listErr := s.client.PullRequests.List(ctx, s.owner, s.repo, &github.PullRequestListOptions{
		State: "open",
		Head:  s.owner + ":" + input.Branch,
		Base:  s.defaultBranch,
	})
	if listErr != nil {
		return "", classify(listResp, listErr, "list pull requests", nil)
	}
	if len(existing) == 0 {
		return "", errs.Wrap(err, "create pull request")
	}
	return existing[0].GetHTMLURL(), nil
}

func (s *SourceControl) ChangeRequestStatus(ctx context.Context, prURL string) (janitor.ChangeRequestState, error) {
	number, err := PullNumberFromURL(prURL)
	if err != nil {
		return "", err
	}

	pr, resp, err := s.client.PullRequests.Get(ctx, s.owner, s.repo, number)
	if err != nil {
		return "", classify(resp, err, "get pull request", nil)
	}

	switch {
	case pr.GetMerged():
		return janitor.ChangeRequestMerged, nil
	case pr.GetState() == "closed":
		return janitor.ChangeRequestClosed, nil
	default:
		return janitor.ChangeRequestOpen, nil
	}
}

// PullNumberFromURL reads the number from ".../pull/<n>".
func PullNumberFromURL(raw string) (int, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return 0, errs.Wrap(err, "parse pull request url")
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 2; i >= 0; i-- {
		if segments[i] != "pull" && segments[i] != "pulls" {
			continue
		}
		number, err := strconv.Atoi(segments[i+1])
		if err != nil || number <= 0 {
			break
		}
		return number, nil
	}
	return 0, fmt.Errorf("not a pull request url: %q", raw)
}

// classify maps a go-github failure onto the janitor sentinels and records
// the stack where the call failed.
func classify(resp *github.Response, err error, what string, notFound error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return errs.WithStack(errs.Wrap(err, what+": rate limited"))
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errs.WithStack(fmt.Errorf("%s: %w: %w", what, janitor.ErrAccessDenied, err))
		case http.StatusNotFound:
			if notFound != nil {
				return errs.WithStack(fmt.Errorf("%s: %w: %w", what, notFound, err))
			}
		}
	}
	return errs.WithStack(errs.Wrap(err, what))
}
