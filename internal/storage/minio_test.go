package storage

import "testing"

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"localhost:9000", "localhost:9000", false},
		{"http://localhost:9000", "localhost:9000", false},
		{"https://s3.eu-west-1.amazonaws.com/", "s3.eu-west-1.amazonaws.com", false},
		{"https://minio.local/bucket", "", true},
		{"minio.local/bucket", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := cleanEndpoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("cleanEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewMinIOClient_InvalidEndpoint(t *testing.T) {
	if _, err := NewMinIOClient(Config{Endpoint: "https://minio.local/path"}); err == nil {
		t.Error("expected error for endpoint with path")
	}
	if _, err := NewMinIOClient(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}); err != nil {
		t.Errorf("NewMinIOClient: %v", err)
	}
}
