package services

// Session identifies the acting principal the engine runs for. Without a
// privileged execution context, write rules limit notification creation to
// the session user's own inbox.
type Session struct {
	UserID string
	Role   string
}

func (s Session) IsAdmin() bool {
	return s.Role == "admin"
}
