// Package icd11 is a client for the WHO ICD-11 API.
package icd11

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	LinearizationMMS = "mms"

	// TM2Chapter is the MMS chapter holding the Traditional Medicine Module 2.
	TM2Chapter = "26"

	defaultScope      = "icdapi_access"
	defaultMaxBackoff = 30 * time.Second
)

var (
	// ErrUnauthorized is returned for 401/403 responses and rejected token requests.
	ErrUnauthorized = errors.New("icd11: unauthorized")
	// ErrRateLimited is returned when the API keeps answering 429 after all retries.
	ErrRateLimited = errors.New("icd11: rate limited")
)

// StatusError is returned for other unexpected HTTP statuses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("icd11: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

// Client talks to the WHO ICD-11 API with OAuth2 client credentials and
// bounded retries.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  zerolog.Logger
}

// NewClient builds a client. Tokens are fetched lazily and reused until they
// expire.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials are not configured", ErrUnauthorized)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("icd11: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	logger = logger.With().Str("component", "icd11-client").Logger()

	base := &http.Client{Timeout: cfg.RequestTimeout}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	// oauth2.NewClient does not carry the base client's timeout over.
	api := oauth2.NewClient(tokenCtx, cc.TokenSource(tokenCtx))
	api.Timeout = cfg.RequestTimeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = api
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = cfg.BaseBackoff
	rc.RetryWaitMax = cfg.MaxBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger: logger}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		logger:  logger,
	}, nil
}

// checkRetry retries network errors, 429 and 5xx. Authentication failures
// and other client errors are final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return false, nil
		}
		return true, nil
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, nil
	case resp.StatusCode == http.StatusNotImplemented:
		return false, nil
	case resp.StatusCode >= 500:
		return true, nil
	}
	return false, nil
}

// Entity is an ICD-11 linearization entity.
type Entity struct {
	ID         string   `json:"id"`
	Code       string   `json:"code"`
	Title      string   `json:"title"`
	Definition string   `json:"definition,omitempty"`
	Chapter    string   `json:"chapter,omitempty"`
	Synonyms   []string `json:"synonyms,omitempty"`
	Score      float64  `json:"score"`
}

// IsTM2 reports whether the entity belongs to the traditional medicine chapter.
func (e Entity) IsTM2() bool {
	return e.Chapter == TM2Chapter || strings.HasPrefix(e.Code, "S")
}

type searchResponse struct {
	Error               bool   `json:"error"`
	ErrorMessage        string `json:"errorMessage"`
	DestinationEntities []struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		TheCode     string  `json:"theCode"`
		Chapter     string  `json:"chapter"`
		Score       float64 `json:"score"`
		MatchingPVs []struct {
			Label string `json:"label"`
		} `json:"matchingPVs"`
	} `json:"destinationEntities"`
}

// Search runs a flat-results search of term within a release linearization.
// Entities without a code (chapters, blocks) are dropped.
func (c *Client) Search(ctx context.Context, release, linearization, term string) ([]Entity, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("flatResults", "true")
	q.Set("highlightingEnabled", "false")
	q.Set("useFlexisearch", "true")
	endpoint := fmt.Sprintf("%s/icd/release/11/%s/%s/search?%s",
		c.baseURL, url.PathEscape(release), url.PathEscape(linearization), q.Encode())

	var body searchResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Error {
		return nil, fmt.Errorf("icd11: search %q: %s", term, body.ErrorMessage)
	}

	out := make([]Entity, 0, len(body.DestinationEntities))
	for _, d := range body.DestinationEntities {
		if d.TheCode == "" {
			continue
		}
		e := Entity{
			ID:      d.ID,
			Code:    d.TheCode,
			Title:   stripMarkup(d.Title),
			Chapter: d.Chapter,
			Score:   d.Score,
		}
		for _, pv := range d.MatchingPVs {
			if label := stripMarkup(pv.Label); label != "" && label != e.Title {
				e.Synonyms = append(e.Synonyms, label)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

type languageValue struct {
	Value string `json:"@value"`
}

type entityResponse struct {
	ID         string        `json:"@id"`
	Code       string        `json:"code"`
	Title      languageValue `json:"title"`
	Definition languageValue `json:"definition"`
	Synonym    []struct {
		Label languageValue `json:"label"`
	} `json:"synonym"`
}

// Entity fetches one linearization entity by its numeric id or full URI.
func (c *Client) Entity(ctx context.Context, release, linearization, id string) (*Entity, error) {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	endpoint := fmt.Sprintf("%s/icd/release/11/%s/%s/%s",
		c.baseURL, url.PathEscape(release), url.PathEscape(linearization), url.PathEscape(id))

	var body entityResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	e := &Entity{
		ID:         body.ID,
		Code:       body.Code,
		Title:      body.Title.Value,
		Definition: body.Definition.Value,
	}
	for _, s := range body.Synonym {
		if s.Label.Value != "" {
			e.Synonyms = append(e.Synonyms, s.Label.Value)
		}
	}
	return e, nil
}

// getJSON issues one GET through the retrying client. The request timeout
// applies to each attempt; ctx bounds the whole sequence.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("API-Version", "v2")

	resp, err := c.http.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return fmt.Errorf("%w: token request failed: %v", ErrUnauthorized, re)
		}
		return fmt.Errorf("icd11: GET %s: %w", redact(endpoint), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, URL: redact(endpoint), Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("icd11: decode %s: %w", redact(endpoint), err)
	}
	return nil
}

func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

var markup = regexp.MustCompile(`<[^>]*>`)

func stripMarkup(s string) string {
	return strings.TrimSpace(markup.ReplaceAllString(s, ""))
}
