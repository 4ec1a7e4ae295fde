/*
Copyright © 2024 the hydropot authors.
This file is part of hydropot.

hydropot is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hydropot is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hydropot.  If not, see <http://www.gnu.org/licenses/>.
*/

package hydroputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hydropot/cloud"
)

// EarthdataTokenEnv is the environment variable holding the NASA
// Earthdata bearer token used for HTTP downloads.
const EarthdataTokenEnv = "EARTHDATA_TOKEN"

// earthdataHosts are the domains that receive the Earthdata token when a
// download is redirected to them, such as the Earthdata Login server.
var earthdataHosts = []string{"earthdata.nasa.gov", "earthdatacloud.nasa.gov"}

// maxDownloadTime is the longest time a download is retried for.
const maxDownloadTime = 5 * time.Minute

// maybeDownload checks if the input is an existing file locally.
// If not, it checks if the file is an http(s) or blob storage URL.
// If it's a URL, it downloads the file into a temporary directory and
// returns the path to the downloaded file along with a function that
// removes the temporary directory.
func maybeDownload(ctx context.Context, p string, log logrus.FieldLogger) (string, func(), error) {
	noop := func() {}
	// Check if local file exists. If it does, return the given path.
	if _, err := os.Stat(p); err == nil {
		return p, noop, nil
	}
	isHTTP := strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
	if !isHTTP && !cloud.IsBlobURL(p) {
		return "", noop, fmt.Errorf("hydropot: input file %s: %w", p, os.ErrNotExist)
	}

	dir, err := os.MkdirTemp("", "hydropot")
	if err != nil {
		return "", noop, fmt.Errorf("hydropot: creating temporary download directory: %v", err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	dst := filepath.Join(dir, downloadName(p))
	log = log.WithFields(logrus.Fields{"url": p, "path": dst})
	log.Info("downloading input")
	start := time.Now()

	if isHTTP {
		err = downloadHTTP(ctx, http.DefaultClient, p, dst, os.Getenv(EarthdataTokenEnv), log)
	} else {
		err = cloud.Download(ctx, p, dst)
	}
	if err != nil {
		cleanup()
		return "", noop, err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("downloaded input")
	return dst, cleanup, nil
}

// downloadName returns the file name to download the URL p to.
func downloadName(p string) string {
	name := p
	if u, err := url.Parse(p); err == nil {
		name = u.Path
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		name = "download.nc"
	}
	return name
}

// downloadHTTP downloads the file at rawurl to dst, retrying with
// exponential backoff. If token is not empty it is sent as a bearer
// token.
func downloadHTTP(ctx context.Context, client *http.Client, rawurl, dst, token string, log logrus.FieldLogger) error {
	if token != "" {
		client = withToken(client, token)
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxDownloadTime
	err := backoff.RetryNotify(
		func() error { return fetch(ctx, client, rawurl, dst, token) },
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			log.WithError(err).Warnf("download failed: retrying in %v", d)
		},
	)
	if err != nil {
		return fmt.Errorf("hydropot: downloading %s: %v", rawurl, err)
	}
	return nil
}

// withToken returns a copy of client that sends the bearer token again
// when a request is redirected to one of the earthdataHosts. The
// standard client drops the Authorization header on redirects to
// other hosts.
func withToken(client *http.Client, token string) *http.Client {
	c := *client
	next := client.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if next != nil {
			if err := next(req, via); err != nil {
				return err
			}
		} else if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if isEarthdataHost(req.URL.Hostname()) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	}
	return &c
}

func isEarthdataHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range earthdataHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func fetch(ctx context.Context, client *http.Client, rawurl, dst, token string) error {
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req = req.WithContext(ctx)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%s (is %s set?)", resp.Status, EarthdataTokenEnv))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("server returned %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("server returned %s", resp.Status))
	}
	w, err := os.Create(dst)
	if err != nil {
		return backoff.Permanent(err)
	}
	if _, err = io.Copy(w, resp.Body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
