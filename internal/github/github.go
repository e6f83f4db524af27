package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/mergeflow/mergeflow/internal/retry"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
)

// PRState is a pull request lifecycle state.
type PRState string

const (
	PROpen   PRState = "open"
	PRMerged PRState = "merged"
	PRClosed PRState = "closed"
)

// PR represents a pull request.
type PR struct {
	Number  int
	HTMLURL string
	Title   string
	Branch  string
	HeadSHA string
	Draft   bool
	State   PRState
}

// Comment represents a comment on the pull request conversation. CreatedEpoch
// is the creation time normalized to UTC epoch seconds at ingestion.
type Comment struct {
	ID           int64
	Body         string
	User         string
	CreatedEpoch int64
}

// ChangedFile represents a file touched by a pull request.
type ChangedFile struct {
	Path      string
	Additions int
	Deletions int
	Patch     string
}

// Client is a typed code-hosting API client wrapping go-github.
type Client struct {
	gh           *gh.Client
	retryBackoff []time.Duration
}

// Option configures a Client.
type Option func(*clientConfig)

// AppCredentials holds GitHub App authentication parameters.
type AppCredentials struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPath string
}

type clientConfig struct {
	baseURL      string
	retryBackoff []time.Duration
	app          *AppCredentials
}

// readKeyFile is a variable for testing; defaults to os.ReadFile.
var readKeyFile = os.ReadFile

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *clientConfig) { c.retryBackoff = delays }
}

// WithAppAuth configures GitHub App authentication using a Client ID,
// installation ID, and private key file. When set, token is ignored.
func WithAppAuth(app AppCredentials) Option {
	return func(c *clientConfig) { c.app = &app }
}

// New creates a new API client. When WithAppAuth is provided, the client
// authenticates as a GitHub App installation (token parameter is ignored).
// Otherwise it authenticates with the given personal access token.
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var client *gh.Client

	if cfg.app != nil {
		httpClient, err := newAppHTTPClient(cfg.app, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub App auth: %w", err)
		}
		client = gh.NewClient(httpClient)
	} else {
		client = gh.NewClient(nil).WithAuthToken(token)
	}
	if cfg.baseURL != "" {
		client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
	}

	return &Client{gh: client, retryBackoff: cfg.retryBackoff}, nil
}

// newAppHTTPClient creates an http.Client with a GitHub App installation
// transport that uses Client ID (string) as the JWT issuer.
func newAppHTTPClient(app *AppCredentials, baseURL string) (*http.Client, error) {
	keyPath := expandHome(app.PrivateKeyPath)
	keyData, err := readKeyFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", app.PrivateKeyPath, err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      key,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused — our signer overrides the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}
	if baseURL != "" {
		atr.BaseURL = baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if baseURL != "" {
		itr.BaseURL = baseURL
	}

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer using a string Client ID
// as the JWT issuer instead of a numeric App ID.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// ValidateCredentials probes credential validity by fetching the repository.
// This works for both token and App-installation auth.
func (c *Client) ValidateCredentials(ctx context.Context, owner, repo string) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return classifyErr(fmt.Errorf("validating credentials: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// FindOpenPR finds an existing open PR for the given head and base branches.
// Returns nil when no matching open PR exists.
func (c *Client) FindOpenPR(ctx context.Context, owner, repo, head, base string) (*PR, error) {
	return retry.DoVal(ctx, func() (*PR, error) {
		prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
			Head:  owner + ":" + head,
			Base:  base,
			State: "open",
		})
		if err != nil {
			return nil, classifyErr(fmt.Errorf("listing PRs: %w", err))
		}
		if len(prs) == 0 {
			return nil, nil
		}
		pr := prFromGH(prs[0])
		return &pr, nil
	}, c.retryOpts()...)
}

// NewPR holds the parameters for creating a pull request.
type NewPR struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// CreatePR opens a pull request.
func (c *Client) CreatePR(ctx context.Context, owner, repo string, np NewPR) (PR, error) {
	return retry.DoVal(ctx, func() (PR, error) {
		pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
			Title: gh.Ptr(np.Title),
			Body:  gh.Ptr(np.Body),
			Head:  gh.Ptr(np.Head),
			Base:  gh.Ptr(np.Base),
			Draft: gh.Ptr(np.Draft),
		})
		if err != nil {
			return PR{}, classifyErr(fmt.Errorf("creating pull request: %w", err))
		}
		return prFromGH(pr), nil
	}, c.retryOpts()...)
}

// FetchPR fetches a single pull request by number.
func (c *Client) FetchPR(ctx context.Context, owner, repo string, prNumber int) (PR, error) {
	return retry.DoVal(ctx, func() (PR, error) {
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
		if err != nil {
			return PR{}, classifyErr(fmt.Errorf("fetching pull request: %w", err))
		}
		return prFromGH(pr), nil
	}, c.retryOpts()...)
}

// FetchPRComments returns all conversation comments on the pull request,
// oldest first. Creation times are normalized to UTC epoch seconds.
func (c *Client) FetchPRComments(ctx context.Context, owner, repo string, prNumber int) ([]Comment, error) {
	return retry.DoVal(ctx, func() ([]Comment, error) {
		var all []Comment
		opts := &gh.IssueListCommentsOptions{
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, prNumber, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("fetching PR comments: %w", err))
			}
			for _, cm := range comments {
				all = append(all, commentFromGH(cm))
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return all, nil
	}, c.retryOpts()...)
}

// PostPRComment posts a comment on the pull request conversation.
func (c *Client) PostPRComment(ctx context.Context, owner, repo string, prNumber int, body string) (Comment, error) {
	return retry.DoVal(ctx, func() (Comment, error) {
		ic, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		if err != nil {
			return Comment{}, classifyErr(fmt.Errorf("posting PR comment: %w", err))
		}
		return commentFromGH(ic), nil
	}, c.retryOpts()...)
}

// ListPRFiles returns the files changed by the pull request.
func (c *Client) ListPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]ChangedFile, error) {
	return retry.DoVal(ctx, func() ([]ChangedFile, error) {
		var all []ChangedFile
		opts := &gh.ListOptions{PerPage: 100}
		for {
			files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("listing PR files: %w", err))
			}
			for _, f := range files {
				all = append(all, ChangedFile{
					Path:      f.GetFilename(),
					Additions: f.GetAdditions(),
					Deletions: f.GetDeletions(),
					Patch:     f.GetPatch(),
				})
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return all, nil
	}, c.retryOpts()...)
}

// ClosePR closes the pull request without merging, posting the given
// farewell comment first when non-empty.
func (c *Client) ClosePR(ctx context.Context, owner, repo string, prNumber int, comment string) error {
	if comment != "" {
		if _, err := c.PostPRComment(ctx, owner, repo, prNumber, comment); err != nil {
			return err
		}
	}
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, prNumber, &gh.PullRequest{
			State: gh.Ptr("closed"),
		})
		if err != nil {
			return classifyErr(fmt.Errorf("closing PR #%d: %w", prNumber, err))
		}
		return nil
	}, c.retryOpts()...)
}

// MergePR squash-merges the pull request, requiring the remote head to still
// be expectedHeadSHA. The SHA precondition makes the merge fail instead of
// merging commits that were never assessed.
func (c *Client) MergePR(ctx context.Context, owner, repo string, prNumber int, expectedHeadSHA, commitMsg string) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, prNumber, commitMsg, &gh.PullRequestOptions{
			SHA:         expectedHeadSHA,
			MergeMethod: "squash",
		})
		if err != nil {
			return classifyErr(fmt.Errorf("merging PR #%d: %w", prNumber, err))
		}
		return nil
	}, c.retryOpts()...)
}

// IsPRMerged returns whether the given pull request has been merged.
func (c *Client) IsPRMerged(ctx context.Context, owner, repo string, prNumber int) (bool, error) {
	return retry.DoVal(ctx, func() (bool, error) {
		merged, _, err := c.gh.PullRequests.IsMerged(ctx, owner, repo, prNumber)
		if err != nil {
			return false, classifyErr(fmt.Errorf("checking PR merged status: %w", err))
		}
		return merged, nil
	}, c.retryOpts()...)
}

func prFromGH(pr *gh.PullRequest) PR {
	p := PR{
		Number:  pr.GetNumber(),
		HTMLURL: pr.GetHTMLURL(),
		Title:   pr.GetTitle(),
		Draft:   pr.GetDraft(),
		State:   PRState(pr.GetState()),
	}
	if pr.GetMerged() || pr.MergedAt != nil {
		p.State = PRMerged
	}
	if pr.Head != nil {
		p.HeadSHA = pr.Head.GetSHA()
		p.Branch = pr.Head.GetRef()
	}
	return p
}

func commentFromGH(ic *gh.IssueComment) Comment {
	return Comment{
		ID:           ic.GetID(),
		Body:         ic.GetBody(),
		User:         ic.GetUser().GetLogin(),
		CreatedEpoch: ic.GetCreatedAt().UTC().Unix(),
	}
}

// retryOpts returns the retry options for this client.
func (c *Client) retryOpts() []retry.Option {
	if len(c.retryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(c.retryBackoff...)}
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// classifyErr wraps a go-github error as permanent if it's a client error
// (4xx), and leaves it retryable for server errors and network errors.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if ghErr.Response.StatusCode >= 400 && ghErr.Response.StatusCode < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}
