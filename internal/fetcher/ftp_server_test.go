package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exportServer speaks the subset of FTP the client needs to log in and
// retrieve one file over an extended passive data connection.
type exportServer struct {
	ln    net.Listener
	files map[string]string

	mu     sync.Mutex
	logins []string
	wg     sync.WaitGroup
}

func startExportServer(t *testing.T, files map[string]string) *exportServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &exportServer{ln: ln, files: files}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go s.session(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close() //nolint:errcheck
		s.wg.Wait()
	})
	return s
}

func (s *exportServer) url(path string, creds string) string {
	if creds != "" {
		creds += "@"
	}
	return fmt.Sprintf("ftp://%s%s%s", creds, s.ln.Addr().String(), path)
}

func (s *exportServer) session(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...) //nolint:errcheck
	}

	var data net.Listener
	defer func() {
		if data != nil {
			data.Close() //nolint:errcheck
		}
	}()

	reply("220 exports ready")
	var user string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch strings.ToUpper(verb) {
		case "USER":
			user = arg
			reply("331 password required")
		case "PASS":
			s.mu.Lock()
			s.logins = append(s.logins, user+":"+arg)
			s.mu.Unlock()
			reply("230 logged in")
		case "FEAT":
			reply("211 no features")
		case "TYPE", "OPTS":
			reply("200 ok")
		case "EPSV":
			if data != nil {
				data.Close() //nolint:errcheck
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 no data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "RETR":
			body, ok := s.files[arg]
			if !ok || data == nil {
				reply("550 %s: not found", arg)
				continue
			}
			reply("150 sending")
			dc, err := data.Accept()
			if err != nil {
				reply("425 no data connection")
				continue
			}
			io.WriteString(dc, body) //nolint:errcheck
			dc.Close()               //nolint:errcheck
			data.Close()             //nolint:errcheck
			data = nil
			reply("226 done")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestFTPFetcher_DownloadAnonymous(t *testing.T) {
	srv := startExportServer(t, map[string]string{"/exports/leads.csv": "name,email\nJane,jane@acme.ug\n"})

	rc, err := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second}).Download(context.Background(), srv.url("/exports/leads.csv", ""))
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "name,email\nJane,jane@acme.ug\n", string(body))
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"anonymous:anonymous@"}, srv.logins)
}

func TestFTPFetcher_DownloadWithCredentials(t *testing.T) {
	srv := startExportServer(t, map[string]string{"/leads.csv": "name\nJane\n"})

	rc, err := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second}).Download(context.Background(), srv.url("/leads.csv", "crm:secret"))
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"crm:secret"}, srv.logins)
}

func TestFTPFetcher_MissingFile(t *testing.T) {
	srv := startExportServer(t, map[string]string{})

	_, err := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second}).Download(context.Background(), srv.url("/gone.csv", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp retrieve")
}

func TestFTPFetcher_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewFTPFetcher(FTPOptions{Timeout: time.Second}).Download(context.Background(), "ftp://"+addr+"/leads.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp dial")
}

func TestOpener_FTPImportParsesRecords(t *testing.T) {
	srv := startExportServer(t, map[string]string{
		"/daily/leads.csv": "Full Name,Company,Email\nJane Doe,Acme Realty,jane@acme.ug\nJohn Roe,Roe Homes,\n",
	})

	rc, err := NewOpener(5*time.Second).Open(context.Background(), srv.url("/daily/leads.csv", ""))
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck

	recs, err := ReadCSVRecords(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Acme Realty", recs[0]["Company"])
	assert.Equal(t, "John Roe", recs[1]["Full Name"])
}
