package content

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-getter"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/internal/httpclient"
	"github.com/teranos/croplink/sourcecfg"
)

// MaxArtifactBytes caps the size of a fetched artifact.
const MaxArtifactBytes = 32 << 20

// Ref identifies the artifact one ingestion job processes.
type Ref struct {
	SourceID  string
	Container string
	Path      string
	// Path fields for event deliveries; iteration parameters and
	// scheduled_at for pulls.
	Metadata map[string]string
}

// Artifact is a fetched body.
type Artifact struct {
	Body        []byte
	ContentType string
	Location    string
}

// Fetcher retrieves the artifact behind a ref.
type Fetcher interface {
	Fetch(ctx context.Context, src *sourcecfg.Source, ref Ref) (*Artifact, error)
}

// GetterFetcher reads landed blobs below a root URI with go-getter, so the
// landing store may be a local directory, an HTTP endpoint or an S3 bucket.
type GetterFetcher struct {
	root    string
	getters map[string]getter.Getter
}

// NewGetterFetcher creates a fetcher for blobs at <rootURI>/<container>/<path>.
// httpClient serves http(s) roots; nil uses a client that blocks private hosts.
func NewGetterFetcher(rootURI string, httpClient *httpclient.SaferClient) (*GetterFetcher, error) {
	if rootURI == "" {
		return nil, errors.New("landing root URI is empty")
	}
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(rootURI, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid landing root URI %q", rootURI)
	}
	if httpClient == nil {
		httpClient = httpclient.NewSaferClient(0)
	}

	httpGetter := &getter.HttpGetter{
		Client:                httpClient.Client,
		Netrc:                 false,
		XTerraformGetDisabled: true,
	}
	return &GetterFetcher{
		root: strings.TrimRight(detected, "/"),
		getters: map[string]getter.Getter{
			"file":  &getter.FileGetter{Copy: true},
			"http":  httpGetter,
			"https": httpGetter,
			"s3":    new(getter.S3Getter),
		},
	}, nil
}

// Location returns the URI a ref resolves to.
func (f *GetterFetcher) Location(ref Ref) (string, error) {
	clean := path.Clean("/" + ref.Path)
	if ref.Container == "" || strings.Contains(ref.Container, "/") || clean == "/" {
		return "", errors.MarkTerminal(errors.Newf("invalid blob reference %s/%s", ref.Container, ref.Path))
	}
	return f.root + "/" + url.PathEscape(ref.Container) + clean, nil
}

// Fetch downloads the blob into a temporary file and reads it.
func (f *GetterFetcher) Fetch(ctx context.Context, src *sourcecfg.Source, ref Ref) (*Artifact, error) {
	loc, err := f.Location(ref)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "croplink-fetch-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fetch directory")
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "artifact")
	client := &getter.Client{
		Ctx:           ctx,
		Src:           loc,
		Dst:           dst,
		Mode:          getter.ClientModeFile,
		Getters:       f.getters,
		Decompressors: map[string]getter.Decompressor{},
	}
	if err := client.Get(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "fetch interrupted")
		}
		err = errors.WithDetail(err, fmt.Sprintf("Location: %s", loc))
		return nil, errors.Wrap(err, "failed to fetch landed blob")
	}

	body, err := readCapped(dst)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Body:        body,
		ContentType: mime.TypeByExtension(path.Ext(ref.Path)),
		Location:    loc,
	}, nil
}

func readCapped(name string) ([]byte, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, errors.Wrap(err, "fetched artifact missing")
	}
	if info.Size() > MaxArtifactBytes {
		return nil, terminal(nil, fmt.Sprintf("artifact is %d bytes, limit %d", info.Size(), MaxArtifactBytes))
	}
	body, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fetched artifact")
	}
	return body, nil
}

// Limiter gates outbound pulls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// PullFetcher performs the HTTP request a scheduled-pull source describes.
type PullFetcher struct {
	client  *httpclient.SaferClient
	limiter Limiter
}

// NewPullFetcher creates a pull fetcher. limiter may be nil.
func NewPullFetcher(client *httpclient.SaferClient, limiter Limiter) *PullFetcher {
	return &PullFetcher{client: client, limiter: limiter}
}

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandURL fills {name} placeholders from params. Unknown placeholders
// are an error.
func ExpandURL(tmpl string, params map[string]string) (string, error) {
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.QueryEscape(v)
	})
	if len(missing) > 0 {
		return "", errors.Newf("no value for URL placeholders %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Fetch issues the request. 4xx replies other than 408 and 429 are
// terminal; everything else that fails is retryable.
func (f *PullFetcher) Fetch(ctx context.Context, src *sourcecfg.Source, ref Ref) (*Artifact, error) {
	req := src.Config.Ingestion.Request
	if req == nil {
		return nil, errors.MarkTerminal(errors.Newf("source %s has no request descriptor", src.ID()))
	}
	target, err := ExpandURL(req.URL, ref.Metadata)
	if err != nil {
		return nil, errors.MarkTerminal(err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "pull rate limit wait")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, errors.MarkTerminal(errors.Wrap(err, "failed to create pull request"))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
			err = errors.Mark(err, errors.ErrTimeout)
		}
		err = errors.WithDetail(err, fmt.Sprintf("URL: %s", target))
		return nil, errors.Wrap(err, "pull request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pull response")
	}
	if len(body) > MaxArtifactBytes {
		return nil, terminal(nil, fmt.Sprintf("pull response exceeds %d bytes", MaxArtifactBytes))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.Newf("pull returned status %d", resp.StatusCode)
		err = errors.WithDetail(err, fmt.Sprintf("URL: %s", target))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, terminal(err, "pull rejected")
		}
		return nil, err
	}

	return &Artifact{Body: body, ContentType: resp.Header.Get("Content-Type"), Location: target}, nil
}
