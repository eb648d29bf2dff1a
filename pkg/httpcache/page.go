package httpcache

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagecache/pkg/cache"
	"github.com/rs/zerolog"
)

// DefaultPageNamespace is the cache namespace for rendered pages.
const DefaultPageNamespace = "htmlpage"

// PageOptions configures the page cache middleware.
type PageOptions struct {
	// Namespace for cached pages. Defaults to DefaultPageNamespace.
	Namespace string

	// ContentVersion salts fingerprints and cache keys. Changing it
	// invalidates every client copy and every cached page.
	ContentVersion string

	// ModTime returns the modification time of the requested resource. It
	// is called once per request, so edits change the fingerprint and the
	// cache key without a restart. Nil means no modification time.
	ModTime func(*http.Request) time.Time

	// MaxAge overrides the facade default for cached pages.
	MaxAge time.Duration

	// IsAPI marks requests that skip negotiation and caching.
	IsAPI func(*http.Request) bool

	// Flashes loads pending flash messages for a request before negotiation.
	Flashes func(*http.Request) []string

	// DeliverFlashes receives the messages still pending after a full GET
	// render. It runs before the headers are sent and should clear the
	// messages at their source.
	DeliverFlashes func(h http.Header, msgs []string)

	Logger zerolog.Logger
}

type responseKey struct{}

// FromContext returns the Response of the current page request, or nil.
// Handlers use it to queue flash messages.
func FromContext(ctx context.Context) *Response {
	resp, _ := ctx.Value(responseKey{}).(*Response)
	return resp
}

// PageCache returns middleware that answers conditional requests first and
// then serves full pages from facade. Only 200 responses to GET requests
// without flash messages are stored, and only 200 responses keep the
// validators.
func PageCache(facade *cache.Facade, negotiator *Negotiator, opts PageOptions) func(http.Handler) http.Handler {
	if opts.Namespace == "" {
		opts.Namespace = DefaultPageNamespace
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isCacheableMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			resp := NewResponse(w)
			if opts.IsAPI != nil && opts.IsAPI(r) {
				resp.SetAPI(true)
			}
			if opts.Flashes != nil {
				for _, msg := range opts.Flashes(r) {
					resp.AddFlash(msg)
				}
			}

			var modTime time.Time
			if opts.ModTime != nil {
				modTime = opts.ModTime(r)
			}
			res := Resource{
				Path:    r.URL.Path,
				ModTime: modTime,
				Salt:    opts.ContentVersion,
			}
			outcome, err := negotiator.Negotiate(resp, r, res)
			if err != nil {
				opts.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Conditional negotiation failed")
			}
			if outcome == ShortCircuited {
				return
			}

			ctx := context.WithValue(r.Context(), responseKey{}, resp)
			useCache := !resp.IsAPI() && !IsAJAX(r) && !resp.HasFlash()
			key := pageKey(r, opts.ContentVersion, modTime)

			if useCache {
				data, ok, err := facade.ReadWithin(ctx, key, opts.Namespace, opts.MaxAge)
				if err != nil {
					opts.Logger.Warn().Err(err).Str("key", key).Msg("Page cache read rejected")
					useCache = false
				} else if ok {
					if contentType, body, valid := decodePage(data); valid {
						_ = resp.SetHeader("Content-Type", contentType)
						_ = resp.SetHeader("X-Cache", "HIT")
						if err := resp.Write(http.StatusOK, body); err != nil {
							opts.Logger.Debug().Err(err).Msg("Failed to write cached page")
						}
						return
					}
				}
			}

			rec := newRecorder()
			next.ServeHTTP(rec, stripValidators(r.WithContext(ctx)))

			if rec.status == http.StatusNotModified {
				copyHeaders(resp.Header(), rec.Header())
				_ = resp.NotModified()
				return
			}
			if rec.status != http.StatusOK {
				dropValidators(resp.Header())
			}
			copyHeaders(resp.Header(), rec.Header())
			body := rec.body.Bytes()

			flashed := resp.HasFlash()
			if useCache && rec.status == http.StatusOK && r.Method == http.MethodGet && !flashed {
				contentType := rec.Header().Get("Content-Type")
				if contentType == "" {
					contentType = http.DetectContentType(body)
					_ = resp.SetHeader("Content-Type", contentType)
				}
				if _, err := facade.Write(ctx, encodePage(contentType, body), key, opts.Namespace, opts.MaxAge); err != nil {
					opts.Logger.Warn().Err(err).Str("key", key).Msg("Page cache write rejected")
				}
				_ = resp.SetHeader("X-Cache", "MISS")
			}
			if flashed && r.Method == http.MethodGet {
				msgs := resp.Flashes()
				if opts.DeliverFlashes != nil {
					opts.DeliverFlashes(resp.Header(), msgs)
				}
			}

			if err := resp.Write(rec.status, body); err != nil {
				opts.Logger.Debug().Err(err).Msg("Failed to write page")
			}
		})
	}
}

// pageKey identifies a page by its request URI, modification time and
// content version.
func pageKey(r *http.Request, version string, modTime time.Time) string {
	key := r.URL.RequestURI()
	if !modTime.IsZero() {
		key = strconv.FormatInt(modTime.Unix(), 10) + "@" + key
	}
	if version != "" {
		key = version + "@" + key
	}
	return key
}

// stripValidators removes the conditional headers already handled by the
// negotiator so the wrapped handler renders a full body.
func stripValidators(r *http.Request) *http.Request {
	if r.Header.Get("If-None-Match") == "" && r.Header.Get("If-Modified-Since") == "" {
		return r
	}
	r = r.Clone(r.Context())
	r.Header.Del("If-None-Match")
	r.Header.Del("If-Modified-Since")
	return r
}

// dropValidators removes the negotiator's validators from an error
// response so clients never revalidate a page that was not served.
func dropValidators(h http.Header) {
	h.Del("Etag")
	h.Del("Last-Modified")
	h.Del("Cache-Control")
}

// copyHeaders copies handler headers to dst, keeping validators the
// negotiator already set.
func copyHeaders(dst, src http.Header) {
	for k, v := range src {
		switch k {
		case "Content-Length":
			continue
		case "Etag", "Last-Modified", "Cache-Control":
			if _, ok := dst[k]; ok {
				continue
			}
		}
		dst[k] = append([]string(nil), v...)
	}
}

// Cached pages are stored as "<content-type>\n<body>".
func encodePage(contentType string, body []byte) []byte {
	contentType = strings.ReplaceAll(contentType, "\n", "")
	out := make([]byte, 0, len(contentType)+1+len(body))
	out = append(out, contentType...)
	out = append(out, '\n')
	return append(out, body...)
}

func decodePage(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

// recorder buffers a handler response so it can be cached before sending.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.wrote {
		return
	}
	r.wrote = true
	r.status = status
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.body.Write(p)
}
