// Package remote talks to the HTTP package registry packages are published to.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/thinkbox/cmlibrary/pkg"
	"github.com/thinkbox/cmlibrary/pkg/recipe"
)

// Client uploads and downloads files from a registry
type Client struct {
	BaseURL  string
	Username string
	Password string

	client *http.Client
}

// New returns a client for the registry at baseURL. Username and password are sent as basic auth if set.
func New(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		client: &http.Client{
			Timeout: time.Minute * 30,
		},
	}
}

// RecipePath returns the remote path of a file belonging to the exported recipe
func RecipePath(ref recipe.Reference, filename string) string {
	return path.Join(append(append([]string{"v2", "conans"}, ref.PathParts()...), "revisions", "0", "files", filename)...)
}

// PackagePath returns the remote path of a file belonging to a package
func PackagePath(ref recipe.Reference, packageID, filename string) string {
	return path.Join(append(append([]string{"v2", "conans"}, ref.PathParts()...),
		"revisions", "0", "packages", packageID, "revisions", "0", "files", filename)...)
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func (c *Client) newRequest(ctx context.Context, method, remotePath string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/"+strings.TrimLeft(remotePath, "/"), body)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to build request for %s", remotePath)
	}

	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(detail))
	if msg == "" {
		return eris.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status)
	}
	return eris.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status, msg)
}

// UploadFile sends localPath to remotePath with a PUT request
func (c *Client) UploadFile(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", localPath)
	}

	bar := getProgressBar(info.Size(), fmt.Sprintf("      upload %s", filepath.Base(localPath)))
	req, err := c.newRequest(ctx, http.MethodPut, remotePath, io.TeeReader(f, bar))
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Upload-Session", nanoid.New())

	pkg.Log(ctx).Debug().Str("path", remotePath).Int64("size", info.Size()).Msg("uploading")
	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to upload %s", localPath)
	}
	defer resp.Body.Close()
	bar.Finish()

	return checkStatus(resp)
}

// DownloadFile fetches remotePath and stores it at localPath
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	req, err := c.newRequest(ctx, http.MethodGet, remotePath, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to start download for %s", remotePath)
	}
	defer resp.Body.Close()

	err = checkStatus(resp)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(localPath), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(localPath))
	}

	tmpPath := localPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", tmpPath)
	}

	bar := getProgressBar(resp.ContentLength, fmt.Sprintf("    download %s", filepath.Base(localPath)))
	_, err = io.Copy(io.MultiWriter(out, bar), resp.Body)
	bar.Finish()
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed during download of %s", remotePath)
	}

	err = out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to write %s", tmpPath)
	}

	return os.Rename(tmpPath, localPath)
}
