// Package fetcher opens import sources from local paths, HTTP(S) URLs and
// FTP servers, and parses them into header-keyed rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Opener resolves a location to a reader by scheme. Locations without a
// scheme are local file paths.
type Opener struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewOpener returns an Opener with default HTTP and FTP fetchers.
func NewOpener(timeout time.Duration) *Opener {
	return &Opener{
		HTTP: NewHTTPFetcher(HTTPOptions{Timeout: timeout}),
		FTP:  NewFTPFetcher(FTPOptions{Timeout: timeout}),
	}
}

// Open returns a reader for location. The caller must close it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch scheme(location) {
	case "ftp":
		if o.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", location)
		}
		return o.FTP.Download(ctx, location)
	case "http", "https":
		if o.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", location)
		}
		return o.HTTP.Download(ctx, location)
	case "file":
		u, err := url.Parse(location)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: parse file url")
		}
		location = u.Path
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", location)
	}
	return f, nil
}

func scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(location[:i])
}
