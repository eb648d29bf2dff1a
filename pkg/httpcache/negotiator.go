package httpcache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoResource indicates the resource has neither a path nor a modification time
var ErrNoResource = errors.New("resource metadata unavailable")

// DefaultCacheControl makes clients revalidate on every request.
const DefaultCacheControl = "private, max-age=0, must-revalidate"

// Outcome is the state of conditional negotiation for one request.
type Outcome int

const (
	// Unchecked means Negotiate has not run yet.
	Unchecked Outcome = iota

	// PassThrough means the caller must render the full response.
	PassThrough

	// ShortCircuited means a 304 was sent and the request is finished.
	ShortCircuited
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case ShortCircuited:
		return "short_circuited"
	default:
		return "unchecked"
	}
}

// Config holds negotiator configuration.
type Config struct {
	// Enabled turns conditional negotiation on. When false every request passes through.
	Enabled bool

	// Identity distinguishes this deployment in fingerprints.
	Identity string

	// CacheControl is sent with pass-through responses. Empty sends none.
	CacheControl string
}

// DefaultConfig returns negotiation enabled with revalidating clients.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Identity:     "pagecache",
		CacheControl: DefaultCacheControl,
	}
}

// Resource identifies the content behind a response.
type Resource struct {
	// Path is the resource identity, e.g. the script or request path.
	Path string

	// ModTime is the last modification time of the resource.
	ModTime time.Time

	// Salt scopes the fingerprint, e.g. a content or page version.
	Salt string
}

// Negotiator answers conditional requests with 304 Not Modified when the
// client already holds the current fingerprint.
type Negotiator struct {
	cfg    Config
	logger zerolog.Logger
}

// NewNegotiator creates a negotiator.
func NewNegotiator(cfg Config, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		cfg:    cfg,
		logger: logger,
	}
}

// Enabled reports whether negotiation is active.
func (n *Negotiator) Enabled() bool {
	return n.cfg.Enabled
}

// Fingerprint returns the quoted ETag for res. Identical identity, path,
// modification time (second precision) and salt yield identical ETags.
func (n *Negotiator) Fingerprint(res Resource) (string, error) {
	if res.Path == "" && res.ModTime.IsZero() {
		return "", ErrNoResource
	}

	var mtime string
	if !res.ModTime.IsZero() {
		mtime = strconv.FormatInt(res.ModTime.Unix(), 10)
	}

	input := strings.Join([]string{n.cfg.Identity, res.Path, mtime, res.Salt}, "\x00")
	sum := md5.Sum([]byte(input))
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

// Negotiate compares the request validators with res.
//
// It is skipped (PassThrough) when negotiation is disabled, for API and AJAX
// requests, and for methods other than GET and HEAD. On a match it writes a
// 304 with an empty body and returns ShortCircuited; the caller must stop
// processing. A match is ignored while resp has pending flash messages. On
// PassThrough the validators are set on resp for the client to store.
//
// Negotiate runs once per Response; later calls return the first outcome.
func (n *Negotiator) Negotiate(resp *Response, req *http.Request, res Resource) (Outcome, error) {
	if resp.outcome != Unchecked {
		return resp.outcome, nil
	}

	if !n.cfg.Enabled || resp.IsAPI() || IsAJAX(req) || !isCacheableMethod(req.Method) {
		return n.finish(resp, PassThrough, "skipped"), nil
	}

	etag, err := n.Fingerprint(res)
	if err != nil {
		return n.finish(resp, PassThrough, "error"), err
	}

	if n.matches(req, etag, res) {
		if !resp.HasFlash() {
			if err := resp.SetHeader("ETag", etag); err != nil {
				return n.finish(resp, PassThrough, "error"), err
			}
			if err := resp.NotModified(); err != nil {
				return n.finish(resp, PassThrough, "error"), err
			}
			NotModifiedResponses.Inc()
			n.logger.Info().
				Str("path", res.Path).
				Str("etag", etag).
				Msg("304 Not Modified")
			return n.finish(resp, ShortCircuited, ShortCircuited.String()), nil
		}
		n.logger.Debug().
			Str("path", res.Path).
			Msg("Validator matched, pending flash messages force full response")
	}

	if err := n.setValidators(resp, etag, res.ModTime); err != nil {
		return n.finish(resp, PassThrough, "error"), err
	}
	return n.finish(resp, PassThrough, PassThrough.String()), nil
}

func (n *Negotiator) finish(resp *Response, outcome Outcome, label string) Outcome {
	resp.outcome = outcome
	Negotiations.WithLabelValues(label).Inc()
	return outcome
}

func (n *Negotiator) setValidators(resp *Response, etag string, modTime time.Time) error {
	if err := resp.SetHeader("ETag", etag); err != nil {
		return err
	}
	if !modTime.IsZero() {
		if err := resp.SetHeader("Last-Modified", modTime.UTC().Format(http.TimeFormat)); err != nil {
			return err
		}
	}
	if n.cfg.CacheControl != "" {
		if err := resp.SetHeader("Cache-Control", n.cfg.CacheControl); err != nil {
			return err
		}
	}
	return nil
}

// matches prefers If-None-Match and falls back to If-Modified-Since only when
// no entity tag was sent. A date carries no salt, so salted resources only
// match on their entity tag.
func (n *Negotiator) matches(req *http.Request, etag string, res Resource) bool {
	if inm := req.Header.Get("If-None-Match"); strings.TrimSpace(inm) != "" {
		return MatchETag(inm, etag)
	}
	if res.Salt != "" {
		return false
	}

	modTime := res.ModTime
	ims := strings.TrimSpace(req.Header.Get("If-Modified-Since"))
	if ims == "" || modTime.IsZero() {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(since)
}

// MatchETag reports whether the If-None-Match header value contains etag.
// Surrounding whitespace, quotes and the weak W/ prefix are ignored.
func MatchETag(header, etag string) bool {
	want := strings.Trim(strings.TrimSpace(etag), `"`)
	for _, part := range strings.Split(header, ",") {
		tok := strings.TrimSpace(part)
		if tok == "*" {
			return true
		}
		tok = strings.TrimPrefix(tok, "W/")
		if strings.Trim(tok, `"`) == want && want != "" {
			return true
		}
	}
	return false
}

// IsAJAX reports whether req was sent by a script (X-Requested-With).
func IsAJAX(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

func isCacheableMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
