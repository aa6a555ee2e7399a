package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeCalendarWrite = "calendar:write"
	ScopeCalendarRead  = "calendar:read"
)
