package rootbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Fetcher materializes a prebuilt runtime (.root and .tools) into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, bc BuildContext, destDir string) error
}

// artifactExtensions are tried in order; the first one the server has wins.
var artifactExtensions = []string{".tar.gz", ".tar.xz"}

// errArtifactNotFound makes the fetcher try the next extension without retrying.
var errArtifactNotFound = errors.New("artifact not found")

// HTTPFetcher downloads runtime artifacts from BaseURL.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// TempDir receives the download before extraction.
	TempDir string
}

// NewHTTPFetcher builds a fetcher from the artifact settings of cfg.
func NewHTTPFetcher(cfg *Config, tempDir string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  newHttpClient(),
		BaseURL: strings.TrimRight(cfg.Get("ROOTBOX_ARTIFACT_URL", defaultArtifactURL), "/"),
		Retries: cfg.Int("ROOTBOX_FETCH_RETRIES", defaultFetchRetries),
		TempDir: tempDir,
	}
}

func newHttpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Default is 10s, artifact hosts behind CDNs are occasionally slower.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   15 * time.Minute, // runtime trees are a few hundred MB
	}
}

// ArtifactURL is the location of the runtime for bc with the given extension.
func (f *HTTPFetcher) ArtifactURL(bc BuildContext, ext string) string {
	return fmt.Sprintf("%s/%s/R-%s-build-%s%s", f.BaseURL, bc.PlatformID, bc.RuntimeVersion, bc.BuilderVersion, ext)
}

// Fetch downloads and unpacks the runtime. The download is removed afterwards.
func (f *HTTPFetcher) Fetch(ctx context.Context, bc BuildContext, destDir string) error {
	if err := os.MkdirAll(f.TempDir, 0o755); err != nil {
		return fmt.Errorf("create download dir %s: %w", f.TempDir, err)
	}

	var lastURL string
	for _, ext := range artifactExtensions {
		url := f.ArtifactURL(bc, ext)
		lastURL = url
		tmp := filepath.Join(f.TempDir, "download-"+filepath.Base(url))

		err := f.downloadWithRetry(ctx, url, tmp)
		if errors.Is(err, errArtifactNotFound) {
			debugf("%s not found, trying next format\n", url)
			continue
		}
		if err != nil {
			os.Remove(tmp)
			return &FetchError{URL: url, Err: err}
		}

		step("Extracting R %s runtime", bc.RuntimeVersion)
		err = extractRuntimeArtifact(tmp, destDir)
		os.Remove(tmp)
		if err != nil {
			return &FetchError{URL: url, Err: err}
		}
		for _, d := range []string{rootDirName, toolsDirName} {
			if !dirExists(filepath.Join(destDir, d)) {
				return &FetchError{URL: url, Err: fmt.Errorf("artifact has no %s directory", d)}
			}
		}
		return nil
	}
	return &FetchError{URL: lastURL, Err: fmt.Errorf("no prebuilt R %s for %s (builder %s)",
		bc.RuntimeVersion, bc.PlatformID, bc.BuilderVersion)}
}

func (f *HTTPFetcher) downloadWithRetry(ctx context.Context, url, dest string) error {
	var policy backoff.BackOff = backoff.NewExponentialBackOff()
	if f.Retries >= 0 {
		policy = backoff.WithMaxRetries(policy, uint64(f.Retries))
	}
	op := func() error { return f.download(ctx, url, dest) }
	notify := func(err error, wait time.Duration) {
		logger.Warn("download failed, retrying", "url", url, "err", err, "in", wait.Round(time.Millisecond))
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

// download performs one attempt. 404 and other client errors are permanent.
func (f *HTTPFetcher) download(ctx context.Context, url, dest string) error {
	debugf("Downloading %s -> %s\n", url, dest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(errArtifactNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("download failed with status: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create destination file %s: %w", dest, err))
	}
	defer out.Close()

	step("Downloading %s", url)
	var w io.Writer = out
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("   "+filepath.Base(url)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return out.Close()
}
