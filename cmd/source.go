package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// readSource returns the whole content of src: a file path, "-" for
// standard input, or an http(s) URL.
func readSource(c *cobra.Command, src string) ([]byte, error) {
	switch {
	case src == "-":
		b, err := io.ReadAll(c.InOrStdin())
		return b, errors.Wrap(err, "read stdin")
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		client := &http.Client{Timeout: viper.GetDuration("http.timeout")}
		return download(c.Context(), client, src, viper.GetInt("http.parts"))
	default:
		b, err := os.ReadFile(src)
		return b, errors.Wrap(err, "read source")
	}
}

// download fetches url with parts concurrent ranged requests and joins the
// chunks in order.
func download(ctx context.Context, client *http.Client, url string, parts int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	size, err := getContentLength(ctx, client, url)
	if err != nil {
		return nil, err
	}
	logger.Debug("downloading", "url", url, "size", size, "parts", parts)
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	parts = max(1, min(parts, size))
	perSize := size / parts

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < parts; i++ {
		from := i * perSize
		to := from + perSize // exclusive
		if i == parts-1 {
			to = size
		}
		g.Go(func() error {
			return getFileBody(ctx, client, url, buf[from:to], from)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buf, nil
}

func getContentLength(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "content length")
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "content length")
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, errors.Errorf("content length: HEAD %s: %s", url, res.Status)
	}
	n, err := strconv.Atoi(res.Header.Get("Content-Length"))
	if err != nil || n < 0 {
		return 0, errors.Errorf("content length: HEAD %s: no usable Content-Length", url)
	}
	return n, nil
}

// getFileBody fills dst with the bytes of url starting at from.
func getFileBody(ctx context.Context, client *http.Client, url string, dst []byte, from int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "range request")
	}

	// set download ranges
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, from+len(dst)-1))

	res, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "range request")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusPartialContent {
		return errors.Errorf("range request %d-%d: %s", from, from+len(dst)-1, res.Status)
	}
	if _, err := io.ReadFull(res.Body, dst); err != nil {
		return errors.Wrapf(err, "range request %d-%d", from, from+len(dst)-1)
	}
	return nil
}
