package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

const (
	hubProvider     = "huggingface"
	DefaultRevision = "main"
)

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*/[A-Za-z0-9_.-]+$`)

// IsRepoID reports whether ref looks like an owner/name hub repository.
func IsRepoID(ref string) bool {
	return repoPattern.MatchString(ref) && !strings.Contains(ref, "..")
}

// preferredQuants orders GGUF quantizations when a repo offers several.
var preferredQuants = []string{"q4_k_m", "q4_k_s", "q5_k_m", "q4_0", "q5_0", "q8_0", "f16"}

// Snapshot files that no local runner reads.
var skippedSuffixes = []string{".h5", ".msgpack", ".onnx", ".onnx_data", ".ot", ".tflite", ".gguf", ".ckpt"}

// Target is one file to fetch.
type Target struct {
	URL  string
	Dest string
	Size int64
}

// Progress receives byte counts while a file downloads. Total is -1 when
// the server does not report a length.
type Progress func(name string, done, total int64)

// Downloader fetches models from the Hugging Face hub or plain URLs.
type Downloader struct {
	Client   *http.Client
	HubURL   string
	Token    string
	Dir      string
	Progress Progress
}

// NewDownloader returns a downloader writing into dir.
func NewDownloader(dir, token string) *Downloader {
	return &Downloader{
		Client: &http.Client{},
		HubURL: constants.HFHubURL,
		Token:  token,
		Dir:    dir,
	}
}

type hubSibling struct {
	Name string `json:"rfilename"`
	Size int64  `json:"size"`
}

type hubRepo struct {
	ID       string       `json:"id"`
	Siblings []hubSibling `json:"siblings"`
}

// Plan resolves ref into the files to fetch. ref is an http(s) URL or an
// owner/name repository; file selects one file of the repository and gguf
// picks its preferred GGUF file. Otherwise the whole snapshot is fetched.
func (d *Downloader) Plan(ctx context.Context, ref, file string, gguf bool) ([]Target, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, apperr.Usagef("invalid URL %q: %v", ref, err)
		}
		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			return nil, apperr.Usagef("cannot derive a file name from %s", ref)
		}
		return []Target{{URL: ref, Dest: filepath.Join(d.Dir, name), Size: -1}}, nil
	}
	if !IsRepoID(ref) {
		return nil, apperr.Usagef("%q is neither a URL nor an owner/name repository", ref)
	}

	if file != "" {
		if strings.HasPrefix(file, "/") || strings.Contains(file, "..") {
			return nil, apperr.Usagef("invalid file name %q", file)
		}
		dest, err := safeJoin(d.Dir, path.Base(file))
		if err != nil {
			return nil, err
		}
		return []Target{{URL: d.resolveURL(ref, file), Dest: dest, Size: -1}}, nil
	}

	repo, err := d.repoInfo(ctx, ref)
	if err != nil {
		return nil, err
	}
	if gguf {
		s, err := pickGGUF(ref, repo.Siblings)
		if err != nil {
			return nil, err
		}
		return []Target{{URL: d.resolveURL(ref, s.Name), Dest: filepath.Join(d.Dir, path.Base(s.Name)), Size: sizeOrUnknown(s.Size)}}, nil
	}

	root := filepath.Join(d.Dir, path.Base(ref))
	var targets []Target
	for _, s := range snapshotFiles(repo.Siblings) {
		dest, err := safeJoin(root, s.Name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{URL: d.resolveURL(ref, s.Name), Dest: dest, Size: sizeOrUnknown(s.Size)})
	}
	if len(targets) == 0 {
		return nil, apperr.NotFoundf("repository %s has no downloadable model files", ref)
	}
	return targets, nil
}

// Download plans and fetches ref, returning the written paths.
func (d *Downloader) Download(ctx context.Context, ref, file string, gguf bool) ([]string, error) {
	targets, err := d.Plan(ctx, ref, file, gguf)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := d.Fetch(ctx, t); err != nil {
			return paths, err
		}
		paths = append(paths, t.Dest)
	}
	return paths, nil
}

// Fetch downloads one target through a .part file. A destination that
// already has the expected size is kept.
func (d *Downloader) Fetch(ctx context.Context, t Target) error {
	if info, err := os.Stat(t.Dest); err == nil && t.Size >= 0 && info.Size() == t.Size {
		logging.Debug("download already complete", logging.Fields{"path": t.Dest})
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.Dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(t.Dest), err)
	}

	resp, err := api.WithRetry(ctx, func() (*http.Response, error) {
		return d.get(ctx, t.URL)
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	partial := t.Dest + partialExt
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}
	w := &progressWriter{name: filepath.Base(t.Dest), total: resp.ContentLength, fn: d.Progress}
	_, copyErr := io.Copy(io.MultiWriter(f, w), resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(partial)
		if copyErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return api.TransportError(hubProvider, "download interrupted", copyErr)
		}
		return fmt.Errorf("failed to write %s: %w", partial, closeErr)
	}
	if err := os.Rename(partial, t.Dest); err != nil {
		return fmt.Errorf("failed to finish %s: %w", t.Dest, err)
	}
	logging.Info("downloaded model file", logging.Fields{"path": t.Dest, "bytes": w.done})
	return nil
}

func (d *Downloader) repoInfo(ctx context.Context, repo string) (*hubRepo, error) {
	u := strings.TrimRight(d.HubURL, "/") + "/api/models/" + repo + "?blobs=true"
	resp, err := api.WithRetry(ctx, func() (*http.Response, error) {
		return d.get(ctx, u)
	})
	if err != nil {
		var pe *api.ProviderError
		if errors.As(err, &pe) && pe.Kind == api.KindNotFound {
			return nil, apperr.NotFoundf("repository %s not found on the hub", repo)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var info hubRepo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &api.ProviderError{Kind: api.KindMalformed, Provider: hubProvider, Message: fmt.Sprintf("failed to decode repository info: %v", err)}
	}
	return &info, nil
}

// get issues a GET and turns a failure status into a provider error. The
// caller closes the body on success.
func (d *Downloader) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if d.Token != "" && strings.HasPrefix(u, strings.TrimRight(d.HubURL, "/")) {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, api.TransportError(hubProvider, "failed to send request", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, api.StatusError(hubProvider, resp.StatusCode, body)
	}
	return resp, nil
}

func (d *Downloader) resolveURL(repo, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(d.HubURL, "/"), repo, DefaultRevision, file)
}

// pickGGUF chooses one GGUF file, preferring common quantizations and
// skipping split shards beyond the first.
func pickGGUF(repo string, siblings []hubSibling) (hubSibling, error) {
	var candidates []hubSibling
	for _, s := range siblings {
		lower := strings.ToLower(s.Name)
		if !strings.HasSuffix(lower, ".gguf") {
			continue
		}
		if strings.Contains(lower, "-of-") && !strings.Contains(lower, "-00001-of-") {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return hubSibling{}, apperr.NotFoundf("repository %s has no GGUF files", repo)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	for _, q := range preferredQuants {
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c.Name), q) {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}

// snapshotFiles filters a repository listing down to what local runners
// load. PyTorch .bin weights are skipped when safetensors are present.
func snapshotFiles(siblings []hubSibling) []hubSibling {
	hasSafetensors := false
	for _, s := range siblings {
		if strings.HasSuffix(s.Name, ".safetensors") {
			hasSafetensors = true
			break
		}
	}
	var out []hubSibling
	for _, s := range siblings {
		lower := strings.ToLower(s.Name)
		base := path.Base(lower)
		switch {
		case strings.HasPrefix(base, "."):
			continue
		case hasSuffixAny(lower, skippedSuffixes):
			continue
		case hasSafetensors && strings.HasSuffix(lower, ".bin") && strings.Contains(base, "model"):
			continue
		case strings.HasPrefix(lower, "onnx/") || strings.HasPrefix(lower, "flax"):
			continue
		}
		out = append(out, s)
	}
	return out
}

func hasSuffixAny(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// safeJoin joins a repository-relative name under root, rejecting names
// that would escape it.
func safeJoin(root, name string) (string, error) {
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", apperr.Usagef("refusing to write %q outside %s", name, root)
	}
	return p, nil
}

func sizeOrUnknown(n int64) int64 {
	if n <= 0 {
		return -1
	}
	return n
}

type progressWriter struct {
	name  string
	done  int64
	total int64
	fn    Progress
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.fn != nil {
		w.fn(w.name, w.done, w.total)
	}
	return len(p), nil
}
