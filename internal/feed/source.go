package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dealscope/pricetrack-cli/internal/resilience"
)

// Format identifies the feed file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the feed format from the source's file extension.
func DetectFormat(source string) (Format, error) {
	name := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		name = u.Path
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("feed: cannot infer format of %q, pass it explicitly", source)
	}
}

// Open resolves a feed source to a reader. Sources may be local file paths,
// http(s) URLs, or ftp URLs. The caller must close the returned ReadCloser.
func Open(ctx context.Context, source string, client *http.Client, ftpTimeout time.Duration) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Not a URL (single-letter schemes are Windows drive letters).
		return openFile(source)
	}

	switch u.Scheme {
	case "http", "https":
		return openHTTP(ctx, source, client)
	case "ftp":
		return openFTP(ctx, u, ftpTimeout)
	case "file":
		return openFile(u.Path)
	default:
		return nil, eris.Errorf("feed: unsupported scheme %q", u.Scheme)
	}
}

func openFile(p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "feed: open file")
	}
	return f, nil
}

func openHTTP(ctx context.Context, rawURL string, client *http.Client) (io.ReadCloser, error) {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return resilience.IsTransientHTTPStatus(statusErr.status)
		}
		return resilience.IsTransient(err)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "feed: build request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "feed: http get")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &httpStatusError{status: resp.StatusCode, url: rawURL}
		}
		return resp.Body, nil
	})
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("feed: %s returned status %d", e.url, e.status)
}

// ftpConnReader closes both the FTP response and the server connection.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "feed: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "feed: quit ftp connection")
	}
	return nil
}

func openFTP(ctx context.Context, u *url.URL, timeout time.Duration) (io.ReadCloser, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("feed: empty path in ftp url")
	}

	zap.L().Debug("feed: ftp connecting", zap.String("host", host), zap.String("path", u.Path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "feed: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "feed: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "feed: ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}
