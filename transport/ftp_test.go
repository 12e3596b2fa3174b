package transport

import (
	"context"
	"testing"

	"github.com/superglue-ai/superglue-go/core"
)

func TestParseFTPBody(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		wantOp  string
		wantErr bool
	}{
		{
			name:   "json string",
			body:   `{"operation":"list","path":"reports"}`,
			wantOp: "list",
		},
		{
			name:   "decoded map",
			body:   map[string]interface{}{"operation": "get", "path": "data.csv"},
			wantOp: "get",
		},
		{
			name:   "rename with newPath",
			body:   map[string]interface{}{"operation": "rename", "path": "a", "newPath": "b"},
			wantOp: "rename",
		},
		{
			name:    "rename without newPath",
			body:    map[string]interface{}{"operation": "rename", "path": "a"},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			body:    map[string]interface{}{"operation": "chmod", "path": "a"},
			wantErr: true,
		},
		{
			name:    "unstructured body",
			body:    "just a string",
			wantErr: true,
		},
		{
			name:    "nil body",
			body:    nil,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := parseFTPBody(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFTPBody() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && cmd.Operation != tt.wantOp {
				t.Errorf("operation = %q, want %q", cmd.Operation, tt.wantOp)
			}
		})
	}
}

func TestJoinRemote(t *testing.T) {
	tests := []struct {
		base string
		p    string
		want string
	}{
		{"", "file.txt", "/file.txt"},
		{"/uploads", "file.txt", "/uploads/file.txt"},
		{"/uploads/", "/file.txt", "/uploads/file.txt"},
		{"uploads", "sub/file.txt", "/uploads/sub/file.txt"},
		{"/uploads", "", "/uploads"},
	}
	for _, tt := range tests {
		if got := joinRemote(tt.base, tt.p); got != tt.want {
			t.Errorf("joinRemote(%q, %q) = %q, want %q", tt.base, tt.p, got, tt.want)
		}
	}
}

func TestFTPCallRejectsBadBody(t *testing.T) {
	tr := &FTPTransport{Logger: &core.NoOpLogger{}}
	_, err := tr.Call(context.Background(), &Request{
		URLHost: "ftp://files.example.com",
		Body:    "not structured",
	})
	if err == nil {
		t.Fatalf("expected error for unstructured body")
	}
	ee, ok := core.AsEngineError(err)
	if !ok || ee.Kind != core.KindTransport {
		t.Errorf("error kind = %v, want TRANSPORT", err)
	}
}
