package loadboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/restyutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/scanner"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.Tracer("services/loadboard")

var ErrLoginFailed = fmt.Errorf("the board rejected the login form")
var ErrNotAuthenticated = fmt.Errorf("no authenticated session, recovery required")

const searchPath = "/api/loads/search"

// pause before each search retry, doubling per attempt; a zero-delay
// hammer against a rate-limiting board only digs the hole deeper
var searchRetryDelay = time.Millisecond * 500

type Config struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	// PageSize is how many rows one search page asks for.
	PageSize int `json:"page_size"`
	// MaxPages caps pagination per scan cycle.
	MaxPages int `json:"max_pages"`
	// DiagnosticsDir receives response dumps when the strategy asks
	// for capture-on-error.
	DiagnosticsDir string `json:"diagnostics_dir"`
}

// Client talks to the board's JSON search API over an authenticated
// browser-like session. It is both the scheduler's fetch source and
// the recovery manager's session.
type Client struct {
	config  Config
	baseUrl *url.URL

	mu            sync.Mutex
	http          *resty.Client
	authenticated bool
}

var _ scanner.Source = (*Client)(nil)

func NewClient(config Config) (*Client, error) {
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 5
	}
	baseUrl, err := url.Parse(config.BaseUrl)
	if err != nil {
		return nil, err
	}

	c := &Client{config: config, baseUrl: baseUrl}
	c.http, err = c.newHttpClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) newHttpClient() (*resty.Client, error) {
	client := resty.New()
	client.SetBaseURL(c.config.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	// the board fronts through cloudflare and rejects non-browser agents
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(c.baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, otel.Tracer("services/loadboard/http"), restyInstrumentOutput)

	return client, nil
}

func (c *Client) httpClient() (*resty.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.http, c.authenticated
}

type searchRow struct {
	Id          string  `json:"id"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Miles       float64 `json:"miles"`
	Deadhead    float64 `json:"deadhead"`
	Rate        float64 `json:"rate"`
	Equipment   string  `json:"equipment"`
	PickupDate  string  `json:"pickup_date"`
}

type searchPage struct {
	Loads      []searchRow `json:"loads"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
}

func (row searchRow) toRawLoad(capturedAt time.Time) loads.RawLoad {
	return loads.RawLoad{
		ExternalID: row.Id,
		Pickup:     row.Origin,
		Delivery:   row.Destination,
		Miles:      row.Miles,
		Deadhead:   row.Deadhead,
		Rate:       row.Rate,
		Equipment:  row.Equipment,
		PickupDate: row.PickupDate,
		CapturedAt: capturedAt,
	}
}

// FetchBatch pulls one batch of postings under the given strategy:
// per-call deadline, bounded pagination, and parallel page fetches
// only on the fast path.
func (c *Client) FetchBatch(ctx context.Context, strategy scanner.ScanStrategy) ([]loads.RawLoad, error) {
	ctx, span := tracer.Start(ctx, "FetchBatch")
	defer span.End()

	if strategy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strategy.Timeout)
		defer cancel()
	}

	http, authenticated := c.httpClient()
	if !authenticated {
		span.SetStatus(codes.Error, "not authenticated")
		return nil, ErrNotAuthenticated
	}

	capturedAt := time.Now()

	first, err := c.fetchPage(ctx, http, 1, strategy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch first page")
		return nil, err
	}

	totalPages := first.TotalPages
	if totalPages > c.config.MaxPages {
		totalPages = c.config.MaxPages
	}
	span.SetAttributes(attribute.Int("pages", totalPages))

	pages := make([]searchPage, totalPages+1)
	pages[1] = first

	if totalPages > 1 {
		if strategy.UseFastTransport && strategy.Concurrency > 1 {
			group, groupCtx := errgroup.WithContext(ctx)
			group.SetLimit(strategy.Concurrency)
			for n := 2; n <= totalPages; n++ {
				n := n
				group.Go(func() error {
					page, err := c.fetchPage(groupCtx, http, n, strategy)
					if err != nil {
						return err
					}
					pages[n] = page
					return nil
				})
			}
			err = group.Wait()
		} else {
			for n := 2; n <= totalPages; n++ {
				pages[n], err = c.fetchPage(ctx, http, n, strategy)
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch page")
			return nil, err
		}
	}

	var batch []loads.RawLoad
	for _, page := range pages {
		for _, row := range page.Loads {
			batch = append(batch, row.toRawLoad(capturedAt))
		}
	}
	span.SetAttributes(attribute.Int("loads", len(batch)))
	return batch, nil
}

func (c *Client) fetchPage(ctx context.Context, http *resty.Client, page int, strategy scanner.ScanStrategy) (searchPage, error) {
	retries := strategy.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(searchRetryDelay << (attempt - 1)):
			case <-ctx.Done():
				return searchPage{}, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return searchPage{}, err
		}

		res, err := http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"page": fmt.Sprint(page),
				"size": fmt.Sprint(c.config.PageSize),
			}).
			Get(searchPath)
		if err != nil {
			lastErr = err
			continue
		}
		if res.StatusCode() >= 400 {
			lastErr = fmt.Errorf("search page %d responded with status %d", page, res.StatusCode())
			c.captureDiagnostics(ctx, strategy, fmt.Sprintf("search_p%d_s%d", page, res.StatusCode()), res.Body())
			continue
		}

		var parsed searchPage
		err = json.Unmarshal(res.Body(), &parsed)
		if err != nil {
			// layout drift: the search endpoint stopped speaking json
			lastErr = fmt.Errorf("parse search page %d: %w", page, err)
			c.captureDiagnostics(ctx, strategy, fmt.Sprintf("search_p%d_parse", page), res.Body())
			continue
		}
		return parsed, nil
	}
	return searchPage{}, lastErr
}

// captureDiagnostics writes one response body to the diagnostics
// directory. Only active when the current strategy asks for it.
func (c *Client) captureDiagnostics(ctx context.Context, strategy scanner.ScanStrategy, tag string, body []byte) {
	if !strategy.CaptureDiagnostics || c.config.DiagnosticsDir == "" {
		return
	}
	err := os.MkdirAll(c.config.DiagnosticsDir, 0777)
	if err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s.dump", time.Now().Format("20060102T150405"), tag)
	path := filepath.Join(c.config.DiagnosticsDir, name)
	err = os.WriteFile(path, body, 0666)
	if err != nil {
		slog.WarnContext(ctx, "failed to write diagnostics dump", "path", path, "err", err)
		return
	}
	slog.InfoContext(ctx, "captured diagnostics dump", "path", path)
}

// Teardown drops the session. Best effort: a broken session's logout
// often fails and that is fine.
func (c *Client) Teardown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Teardown")
	defer span.End()

	c.mu.Lock()
	http := c.http
	wasAuthenticated := c.authenticated
	c.authenticated = false
	c.mu.Unlock()

	if !wasAuthenticated {
		return nil
	}
	_, err := http.R().SetContext(ctx).Get("/logout")
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Rebuild replaces the transport, cookie jar and all, with a fresh one.
func (c *Client) Rebuild(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Rebuild")
	defer span.End()

	http, err := c.newHttpClient()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.mu.Lock()
	c.http = http
	c.authenticated = false
	c.mu.Unlock()
	return nil
}

// Authenticate performs the form login: scrape the csrf token off the
// login page, post credentials, verify the form is gone.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	c.mu.Lock()
	http := c.http
	c.mu.Unlock()

	res, err := http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login page")
		return err
	}

	csrf := doc.Find("input[name=_csrf]").AttrOr("value", "")
	if csrf == "" {
		span.SetStatus(codes.Error, "csrf token missing from login page")
		return fmt.Errorf("could not locate the csrf token on the login page")
	}

	res, err = http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": c.config.Username,
			"password": c.config.Password,
			"_csrf":    csrf,
		}).
		Post("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to post login form")
		return err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "login form rejected")
		return ErrLoginFailed
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login response")
		return err
	}
	if doc.Find("input[name=_csrf]").Length() > 0 {
		// still looking at the login form
		span.SetStatus(codes.Error, "login form rejected")
		return ErrLoginFailed
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// Probe runs one tiny search with a cache-buster so a poisoned cache
// cannot fake a healthy session.
func (c *Client) Probe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Probe")
	defer span.End()

	http, authenticated := c.httpClient()
	if !authenticated {
		span.SetStatus(codes.Error, "not authenticated")
		return ErrNotAuthenticated
	}

	buster, err := random.String(12)
	if err != nil {
		return err
	}
	res, err := http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page": "1",
			"size": "1",
			"cb":   buster,
		}).
		Get(searchPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe request failed")
		return err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "probe rejected")
		return fmt.Errorf("probe responded with status %d", res.StatusCode())
	}
	var parsed searchPage
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		span.SetStatus(codes.Error, "probe parse failed")
		return fmt.Errorf("probe did not return a search page: %w", err)
	}
	return nil
}
