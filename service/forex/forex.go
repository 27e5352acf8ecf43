package forex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/kylycht/currencycalc/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL string = "https://api.fastforex.io/" // base URL of Forex API
)

// ErrEmptyResult is returned when the API answers without any rates
var ErrEmptyResult = errors.New("forex api returned no rates")

type Response struct {
	Base    string             `json:"base"`
	Results map[string]float64 `json:"results"`
	Updated string             `json:"updated"`
	Ms      int                `json:"ms"`
}

// StatusError is returned for non 200 responses
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unable to fetch rate due to code: %d", e.Code)
}

// Option configures the client
type Option func(*client)

// WithBaseURL overrides the API location
func WithBaseURL(raw string) Option {
	return func(c *client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the transport, the api key is still injected
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.transport = hc.Transport
		c.httpClient.Timeout = hc.Timeout
	}
}

// WithBackoff overrides the retry schedule
func WithBackoff(backoff []time.Duration) Option {
	return func(c *client) { c.retrier = retrier.New(backoff, classifier{}) }
}

// WithRateLimit overrides the request rate limiter
func WithRateLimit(every time.Duration, burst int) Option {
	return func(c *client) { c.rateLimiter = rate.NewLimiter(rate.Every(every), burst) }
}

type client struct {
	baseURL     *url.URL          // Base URL for API requests
	httpClient  *http.Client      // HTTP client used to communicate with the API.
	transport   http.RoundTripper // underlying transport, nil means http.DefaultTransport
	rateLimiter *rate.Limiter     // Rate limiter for forex api
	retrier     *retrier.Retrier  // Retry policy for transient failures
}

func New(apiKey string, opts ...Option) (service.RateProvider, error) {
	base, err := url.Parse(DefaultBaseURL)
	if err != nil {
		return nil, err
	}

	c := &client{
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		retrier:     retrier.New(retrier.ExponentialBackoff(3, 200*time.Millisecond), classifier{}),
		baseURL:     base,
	}

	c.httpClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: roundTripperFn(
			func(req *http.Request) (*http.Response, error) {
				req = req.Clone(req.Context())

				params := req.URL.Query()
				params.Set("api_key", apiKey)
				req.URL.RawQuery = params.Encode()

				if c.transport != nil {
					return c.transport.RoundTrip(req)
				}
				return http.DefaultTransport.RoundTrip(req)
			},
		),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (f *client) Do(ctx context.Context, req *http.Request, v interface{}) error {
	err := f.rateLimiter.Wait(ctx)
	if err != nil {
		return err
	}

	log.Debug().Str("url", req.URL.String()).Msg("fetching information from API")

	resp, err := f.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	switch v := v.(type) {
	case nil:
	case io.Writer:
		_, err = io.Copy(v, resp.Body)
	default:
		decErr := json.NewDecoder(resp.Body).Decode(v)
		if decErr == io.EOF {
			decErr = nil // ignore EOF errors caused by empty response body
		}
		if decErr != nil {
			err = decErr
		}
	}

	return err
}

// Fetch implements service.RateProvider.
// GET /fetch-all?from=USD
func (f *client) Fetch(ctx context.Context, base string) (map[string]float64, error) {
	u, err := f.baseURL.Parse("fetch-all")
	if err != nil {
		return nil, err
	}

	base = strings.ToUpper(base)

	var r Response

	err = f.retrier.RunCtx(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}

		query := req.URL.Query()
		query.Add("from", base)
		req.URL.RawQuery = query.Encode()

		r = Response{}
		return f.Do(ctx, req, &r)
	})
	if err != nil {
		log.Error().Err(err).Str("base", base).Msg("unable to fetch rates")
		return nil, err
	}

	if len(r.Results) == 0 {
		return nil, ErrEmptyResult
	}

	log.Debug().Str("base", r.Base).Int("count", len(r.Results)).Msg("obtained rates for base")

	return r.Results, nil
}

// classifier retries transport failures and 5xx/429 responses only
type classifier struct{}

func (classifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrier.Fail
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError {
			return retrier.Retry
		}
		return retrier.Fail
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return retrier.Fail
	}

	return retrier.Retry
}

type roundTripperFn func(*http.Request) (*http.Response, error)

func (fn roundTripperFn) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}
