package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/iksnae/claude-relay/internal"
)

func TestJSONExporter_Export(t *testing.T) {
	tests := []struct {
		name      string
		sessions  []*internal.Session
		wantCount int
	}{
		{name: "two sessions", sessions: sampleSessions(), wantCount: 2},
		{name: "nil list", sessions: nil, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&JSONExporter{}).Export(tt.sessions, &buf); err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			var got struct {
				Count    int              `json:"count"`
				Sessions []map[string]any `json:"sessions"`
			}
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
			}
			if got.Count != tt.wantCount || len(got.Sessions) != tt.wantCount {
				t.Errorf("count = %d, sessions = %d, want %d", got.Count, len(got.Sessions), tt.wantCount)
			}
			if got.Sessions == nil {
				t.Error("sessions must encode as [] not null")
			}
			if tt.wantCount > 0 {
				first := got.Sessions[0]
				if first["serverId"] != "kr4" || first["serverNumber"].(float64) != 1 {
					t.Errorf("first session = %v", first)
				}
				if _, ok := first["token"]; !ok {
					t.Error("JSON export keeps the token")
				}
			}
		})
	}
}
