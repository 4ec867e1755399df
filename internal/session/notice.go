package session

import "time"

// NoticeKind classifies a user-facing notification.
type NoticeKind string

const (
	NoticeExportStarted       NoticeKind = "export_started"
	NoticeExportFinished      NoticeKind = "export_finished"
	NoticeNothingToExport     NoticeKind = "nothing_to_export"
	NoticeDecodeFailed        NoticeKind = "decode_failed"
	NoticeMissingCollaborator NoticeKind = "missing_collaborator"
)

// Notice is one notification queued for the client.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	File    string     `json:"file,omitempty"`
	JobID   string     `json:"job_id,omitempty"`
	At      time.Time  `json:"at"`
}

// notify must be called with s.mu held.
func (s *Session) notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	s.notices = append(s.notices, n)
}

// DrainNotices returns and clears the pending notices, oldest first.
func (s *Session) DrainNotices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}
