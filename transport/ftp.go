package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/superglue-ai/superglue-go/core"
)

// ftpOperations is the set accepted in a request body.
var ftpOperations = map[string]bool{
	"list": true, "get": true, "put": true, "delete": true,
	"rename": true, "mkdir": true, "rmdir": true, "exists": true, "stat": true,
}

// ftpCommand is the structured body for FTP-family requests.
type ftpCommand struct {
	Operation string `json:"operation"`
	Path      string `json:"path,omitempty"`
	NewPath   string `json:"newPath,omitempty"`
	Content   string `json:"content,omitempty"`
}

// FTPTransport dispatches file operations over FTP, FTPS (explicit TLS)
// or SFTP, selected by the urlHost scheme. Every operation returns a
// JSON-shaped result and a synthetic 200 status.
type FTPTransport struct {
	Logger core.Logger
}

// Call runs one file operation. Remote paths are joined onto the
// endpoint's urlPath base. "get" auto-parses fetched bytes with the
// same content inference as HTTP responses.
func (t *FTPTransport) Call(ctx context.Context, req *Request) (*core.Response, error) {
	cmd, err := parseFTPBody(req.Body)
	if err != nil {
		return nil, &core.EngineError{Kind: core.KindTransport, Message: err.Error(), Err: err}
	}

	target, err := url.Parse(strings.TrimSpace(req.URLHost))
	if err != nil {
		return nil, &core.EngineError{Kind: core.KindTransport, Message: fmt.Sprintf("invalid ftp host: %v", err), Err: err}
	}

	base := req.URLPath
	cmd.Path = joinRemote(base, cmd.Path)
	if cmd.NewPath != "" {
		cmd.NewPath = joinRemote(base, cmd.NewPath)
	}

	var data interface{}
	switch target.Scheme {
	case "sftp":
		data, err = t.runSFTP(ctx, target, cmd, req.Options.Timeout)
	default:
		data, err = t.runFTP(ctx, target, cmd, req.Options.Timeout)
	}
	if err != nil {
		if ee, ok := core.AsEngineError(err); ok {
			return nil, ee
		}
		return nil, &core.EngineError{
			Kind:    core.KindTransport,
			Message: fmt.Sprintf("ftp %s %s: %v", cmd.Operation, cmd.Path, err),
			Err:     err,
		}
	}
	return &core.Response{Data: data, StatusCode: 200}, nil
}

func parseFTPBody(body interface{}) (*ftpCommand, error) {
	var m map[string]interface{}
	switch t := body.(type) {
	case string:
		v, ok := core.ParseJSON([]byte(t))
		if !ok {
			return nil, fmt.Errorf("ftp body must be a structured object")
		}
		m, ok = v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("ftp body must be a structured object")
		}
	case map[string]interface{}:
		m = t
	default:
		return nil, fmt.Errorf("ftp body must be a structured object")
	}

	cmd := &ftpCommand{}
	cmd.Operation, _ = m["operation"].(string)
	cmd.Path, _ = m["path"].(string)
	cmd.NewPath, _ = m["newPath"].(string)
	cmd.Content, _ = m["content"].(string)
	if !ftpOperations[cmd.Operation] {
		return nil, fmt.Errorf("unsupported ftp operation %q", cmd.Operation)
	}
	if cmd.Operation == "rename" && cmd.NewPath == "" {
		return nil, fmt.Errorf("ftp rename requires newPath")
	}
	return cmd, nil
}

// joinRemote joins a base path and an operation path, preserving the
// leading slash remote servers expect.
func joinRemote(base, p string) string {
	joined := path.Join("/", base, p)
	return joined
}

func hostPort(u *url.URL, defaultPort string) string {
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":" + defaultPort
	}
	return host
}

func ftpCredentials(u *url.URL) (string, string) {
	user := "anonymous"
	pass := "anonymous"
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			user = name
		}
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	return user, pass
}

func (t *FTPTransport) runFTP(ctx context.Context, target *url.URL, cmd *ftpCommand, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}
	if target.Scheme == "ftps" {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: target.Hostname()}))
	}

	conn, err := ftp.Dial(hostPort(target, "21"), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = conn.Quit()
	}()

	user, pass := ftpCredentials(target)
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	switch cmd.Operation {
	case "list":
		entries, err := conn.List(cmd.Path)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, ftpEntry(e))
		}
		return out, nil

	case "get":
		r, err := conn.Retr(cmd.Path)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, err
		}
		return Decode(raw, ""), nil

	case "put":
		if err := conn.Stor(cmd.Path, strings.NewReader(cmd.Content)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"written": cmd.Path, "bytes": len(cmd.Content)}, nil

	case "delete":
		if err := conn.Delete(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": cmd.Path}, nil

	case "rename":
		if err := conn.Rename(cmd.Path, cmd.NewPath); err != nil {
			return nil, err
		}
		return map[string]interface{}{"from": cmd.Path, "to": cmd.NewPath}, nil

	case "mkdir":
		if err := conn.MakeDir(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"created": cmd.Path}, nil

	case "rmdir":
		if err := conn.RemoveDir(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": cmd.Path}, nil

	case "exists":
		_, err := conn.FileSize(cmd.Path)
		if err == nil {
			return map[string]interface{}{"exists": true}, nil
		}
		// Directories do not answer SIZE; fall back to listing.
		if entries, listErr := conn.List(cmd.Path); listErr == nil && len(entries) > 0 {
			return map[string]interface{}{"exists": true}, nil
		}
		return map[string]interface{}{"exists": false}, nil

	case "stat":
		entries, err := conn.List(cmd.Path)
		if err != nil || len(entries) == 0 {
			return nil, fmt.Errorf("stat %s: not found", cmd.Path)
		}
		return ftpEntry(entries[0]), nil
	}
	return nil, fmt.Errorf("unsupported ftp operation %q", cmd.Operation)
}

func ftpEntry(e *ftp.Entry) map[string]interface{} {
	entryType := "file"
	switch e.Type {
	case ftp.EntryTypeFolder:
		entryType = "directory"
	case ftp.EntryTypeLink:
		entryType = "link"
	}
	return map[string]interface{}{
		"name":       e.Name,
		"type":       entryType,
		"size":       e.Size,
		"modifiedAt": e.Time.UTC().Format(time.RFC3339),
	}
}

func (t *FTPTransport) runSFTP(ctx context.Context, target *url.URL, cmd *ftpCommand, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	user, pass := ftpCredentials(target)
	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	sshConn, err := ssh.Dial("tcp", hostPort(target, "22"), sshCfg)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = sshConn.Close()
	}()

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	switch cmd.Operation {
	case "list":
		infos, err := client.ReadDir(cmd.Path)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(infos))
		for _, info := range infos {
			out = append(out, statEntry(info))
		}
		return out, nil

	case "get":
		f, err := client.Open(cmd.Path)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		return Decode(raw, ""), nil

	case "put":
		f, err := client.Create(cmd.Path)
		if err != nil {
			return nil, err
		}
		_, err = f.Write([]byte(cmd.Content))
		closeErr := f.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		return map[string]interface{}{"written": cmd.Path, "bytes": len(cmd.Content)}, nil

	case "delete":
		if err := client.Remove(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": cmd.Path}, nil

	case "rename":
		if err := client.Rename(cmd.Path, cmd.NewPath); err != nil {
			return nil, err
		}
		return map[string]interface{}{"from": cmd.Path, "to": cmd.NewPath}, nil

	case "mkdir":
		if err := client.Mkdir(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"created": cmd.Path}, nil

	case "rmdir":
		if err := client.RemoveDirectory(cmd.Path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": cmd.Path}, nil

	case "exists":
		if _, err := client.Stat(cmd.Path); err != nil {
			if os.IsNotExist(err) {
				return map[string]interface{}{"exists": false}, nil
			}
			return nil, err
		}
		return map[string]interface{}{"exists": true}, nil

	case "stat":
		info, err := client.Stat(cmd.Path)
		if err != nil {
			return nil, err
		}
		return statEntry(info), nil
	}
	return nil, fmt.Errorf("unsupported ftp operation %q", cmd.Operation)
}

func statEntry(info os.FileInfo) map[string]interface{} {
	entryType := "file"
	if info.IsDir() {
		entryType = "directory"
	}
	return map[string]interface{}{
		"name":       info.Name(),
		"type":       entryType,
		"size":       info.Size(),
		"modifiedAt": info.ModTime().UTC().Format(time.RFC3339),
	}
}
