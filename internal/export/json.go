package export

import (
	"encoding/json"
	"io"

	"github.com/iksnae/claude-relay/internal"
)

// JSONExporter exports the session list in the same {count, sessions}
// shape as GET /sessions (pretty-printed)
type JSONExporter struct{}

type sessionList struct {
	Count    int                 `json:"count" yaml:"count"`
	Sessions []*internal.Session `json:"sessions" yaml:"sessions"`
}

func newSessionList(sessions []*internal.Session) sessionList {
	if sessions == nil {
		sessions = []*internal.Session{}
	}
	return sessionList{Count: len(sessions), Sessions: sessions}
}

// Export exports sessions to JSON format
func (e *JSONExporter) Export(sessions []*internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(newSessionList(sessions))
}

// Extension returns the file extension for this format
func (e *JSONExporter) Extension() string {
	return "json"
}
