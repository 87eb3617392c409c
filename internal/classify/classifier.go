// Package classify scores staged links through an external safety service.
// The service is a black box: it gets a URL, it answers with a verdict and a
// short note. Failures never block staging; callers fall back to Unscored.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Safety is the classifier's judgement of a link.
type Safety string

const (
	Safe     Safety = "Safe"
	Suspect  Safety = "Suspect"
	Unsafe   Safety = "Unsafe"
	Unscored Safety = "Unscored"
)

// Verdict is the classifier's answer for one URL.
type Verdict struct {
	Safety Safety `json:"verdict"`
	Note   string `json:"note"`
}

// ManualReview is the verdict used whenever no score could be obtained.
func ManualReview() Verdict {
	return Verdict{Safety: Unscored, Note: "manual review needed"}
}

// Classifier scores a URL. Implementations must respect ctx.
type Classifier interface {
	Classify(ctx context.Context, url string) (Verdict, error)
}

// Disabled is used when no classifier endpoint is configured. Every link
// stays unscored and staging proceeds normally.
type Disabled struct{}

func (Disabled) Classify(ctx context.Context, url string) (Verdict, error) {
	return ManualReview(), nil
}

// phishingKeywords are cheap local screens applied before calling out.
var phishingKeywords = []string{
	"login-", "verify-", "secure-", "update-account", "banking-",
}

// Suspicious reports whether a URL matches a known phishing pattern.
func Suspicious(url string) bool {
	lower := strings.ToLower(url)
	for _, kw := range phishingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const (
	attemptTimeout = 10 * time.Second
	maxAttempts    = 3
)

// HTTPClassifier talks JSON to a scoring endpoint. Requests are rate limited
// and retried with a linear backoff; the per-attempt budget is 10 seconds.
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	log      logrus.FieldLogger
}

// NewHTTP returns a classifier for the given endpoint. apiKey may be empty.
func NewHTTP(endpoint, apiKey string, logger logrus.FieldLogger) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: attemptTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		log:      logger.WithField("component", "classifier"),
	}
}

// Classify scores one URL. The local phishing screen short-circuits without
// a network call. On persistent failure it returns the ManualReview verdict
// alongside the error so callers can degrade without special-casing.
func (c *HTTPClassifier) Classify(ctx context.Context, url string) (Verdict, error) {
	if Suspicious(url) {
		return Verdict{Safety: Suspect, Note: "matches a known phishing pattern"}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return ManualReview(), err
		}

		v, err := c.score(ctx, url)
		if err == nil {
			return v, nil
		}
		lastErr = err
		c.log.WithError(err).WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt,
		}).Warn("Classifier attempt failed")

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ManualReview(), ctx.Err()
			}
		}
	}
	return ManualReview(), fmt.Errorf("classify %s: %w", url, lastErr)
}

func (c *HTTPClassifier) score(ctx context.Context, url string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return Verdict{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classifier returned %s", resp.Status)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	switch v.Safety {
	case Safe, Suspect, Unsafe:
	default:
		v.Safety = Unscored
	}
	return v, nil
}
