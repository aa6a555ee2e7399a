// Package api exposes the HTTP surface of the scheduling service.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/scheduling/internal/auth"
	"example.com/scheduling/internal/availability"
	"example.com/scheduling/internal/connection"
	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/events"
	"example.com/scheduling/internal/oauth"
	"example.com/scheduling/internal/persistence"
)

// Handler coordinates HTTP requests with the scheduling components.
type Handler struct {
	tracker   *connection.Tracker
	flow      *oauth.Flow
	engine    *availability.Engine
	orch      *events.Orchestrator
	reminders domain.ReminderStore
	creds     domain.CredentialStore
}

// NewHandler builds a Handler.
func NewHandler(tracker *connection.Tracker, flow *oauth.Flow, engine *availability.Engine, orch *events.Orchestrator, reminders domain.ReminderStore, creds domain.CredentialStore) *Handler {
	return &Handler{
		tracker:   tracker,
		flow:      flow,
		engine:    engine,
		orch:      orch,
		reminders: reminders,
		creds:     creds,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/calendar/connection", h.calendarConnection)
	mux.HandleFunc("/v1/calendar/oauth/begin", h.oauthBegin)
	mux.HandleFunc("/v1/calendar/oauth/callback", h.oauthCallback)
	mux.HandleFunc("/v1/calendar/slots", h.calendarSlots)
	mux.HandleFunc("/v1/events", h.events)
	mux.HandleFunc("/v1/events/", h.eventByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) calendarConnection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getConnection(w, r)
	case http.MethodDelete:
		h.disconnect(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarRead, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	state, err := h.tracker.State(r.Context(), claims.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	view := ConnectionView{
		Status:   string(state.Status),
		Liveness: string(state.Liveness),
		Cause:    state.Cause,
	}
	if state.Status == domain.StatusConnected {
		if cred, err := h.creds.Get(r.Context(), claims.TenantID); err == nil && cred != nil {
			view.GoogleEmail = cred.GoogleEmail
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	if err := h.flow.Disconnect(r.Context(), claims.TenantID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectionView{
		Status:   string(domain.StatusDisconnected),
		Liveness: string(domain.LivenessIdle),
	})
}

func (h *Handler) oauthBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	url, err := h.flow.Begin(r.Context(), claims.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BeginAuthorizationResponse{AuthorizationURL: url})
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	var req CompleteAuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	cred, replayed, err := h.flow.Complete(r.Context(), req.Code, req.State, claims.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteAuthorizationResponse{
		Status:      string(domain.StatusConnected),
		GoogleEmail: cred.GoogleEmail,
		Replayed:    replayed,
	})
}

func (h *Handler) calendarSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarRead, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	rawDate := r.URL.Query().Get("date")
	day, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "date must be formatted YYYY-MM-DD")
		return
	}

	duration := 30 * time.Minute
	if raw := r.URL.Query().Get("duration_min"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation", "duration_min must be a positive integer")
			return
		}
		duration = time.Duration(parsed) * time.Minute
	}

	result, err := h.engine.SuggestSlots(r.Context(), claims.TenantID, day, duration)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := SlotsResponse{
		Slots:    make([]SlotView, 0, len(result.Slots)),
		Degraded: result.Degraded,
		Cause:    result.Cause,
	}
	for _, slot := range result.Slots {
		resp.Slots = append(resp.Slots, SlotView{Start: slot.Start, End: slot.End})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createEvent(w, r)
	case http.MethodGet:
		h.listEvents(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) eventByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing event id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/reminders"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.listReminders(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getEvent(w, r, rest)
	case http.MethodPatch:
		h.updateEvent(w, r, rest)
	case http.MethodDelete:
		h.cancelEvent(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.orch.Create(r.Context(), claims.TenantID, events.CreateRequest{
		ContactID:   req.ContactID,
		Summary:     req.Summary,
		Description: req.Description,
		Start:       req.StartTime,
		End:         req.EndTime,
		Mode:        domain.SyncMode(req.SyncMode),
		Reminders:   toReminderSpecs(req.Reminders),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSyncView(result))
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarRead, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	event, err := h.orch.Get(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(event))
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	var req UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	update := events.UpdateRequest{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       req.StartTime,
		End:         req.EndTime,
		Mode:        domain.SyncMode(req.SyncMode),
	}
	if req.Reminders != nil {
		update.Reminders = toReminderSpecs(*req.Reminders)
	}

	result, err := h.orch.Update(r.Context(), claims.TenantID, id, update)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncView(result))
}

func (h *Handler) cancelEvent(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	result, err := h.orch.Cancel(r.Context(), claims.TenantID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncView(result))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarRead, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	contactID := r.URL.Query().Get("contact_id")
	if contactID == "" {
		writeError(w, http.StatusBadRequest, "validation", "missing contact_id parameter")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid cursor")
		return
	}

	items, next, err := h.orch.ListByContact(r.Context(), claims.TenantID, contactID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListEventsResponse{
		Items:      make([]EventView, 0, len(items)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for i := range items {
		resp.Items = append(resp.Items, toEventView(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := h.requireScope(w, r, auth.ScopeCalendarRead, auth.ScopeCalendarWrite)
	if !ok {
		return
	}

	rows, err := h.orch.Reminders(r.Context(), claims.TenantID, eventID, h.reminders)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListRemindersResponse{Items: make([]ReminderView, 0, len(rows))}
	for _, row := range rows {
		resp.Items = append(resp.Items, ReminderView{
			ReminderID:   row.ID,
			Channel:      string(row.Channel),
			ScheduledAt:  row.ScheduledAt,
			Status:       string(row.Status),
			ErrorMessage: row.ErrorMessage,
			Message:      row.Message,
			SentAt:       row.SentAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// CompleteAuthorizationRequest is the payload for POST /v1/calendar/oauth/callback.
type CompleteAuthorizationRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// CompleteAuthorizationResponse confirms a stored credential.
type CompleteAuthorizationResponse struct {
	Status      string `json:"status"`
	GoogleEmail string `json:"google_email,omitempty"`
	Replayed    bool   `json:"replayed"`
}

// BeginAuthorizationResponse carries the provider consent URL.
type BeginAuthorizationResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// ConnectionView is the caller-facing connection state.
type ConnectionView struct {
	Status      string `json:"status"`
	Liveness    string `json:"liveness"`
	Cause       string `json:"cause,omitempty"`
	GoogleEmail string `json:"google_email,omitempty"`
}

// SlotView is one suggested meeting slot.
type SlotView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SlotsResponse packages slot suggestions.
type SlotsResponse struct {
	Slots    []SlotView `json:"slots"`
	Degraded bool       `json:"degraded"`
	Cause    string     `json:"cause,omitempty"`
}

// ReminderSpecView is the request shape of one reminder.
type ReminderSpecView struct {
	Channel       string `json:"channel"`
	MinutesBefore int    `json:"minutes_before"`
	Message       string `json:"message,omitempty"`
}

// CreateEventRequest is the payload for POST /v1/events.
type CreateEventRequest struct {
	ContactID   string             `json:"contact_id"`
	Summary     string             `json:"summary"`
	Description string             `json:"description"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	SyncMode    string             `json:"sync_mode,omitempty"`
	Reminders   []ReminderSpecView `json:"reminders,omitempty"`
}

// UpdateEventRequest carries the mutable fields for PATCH /v1/events/{id}.
// Absent fields keep their current value; an absent reminders key keeps the
// existing reminder set.
type UpdateEventRequest struct {
	Summary     *string             `json:"summary"`
	Description *string             `json:"description"`
	StartTime   *time.Time          `json:"start_time"`
	EndTime     *time.Time          `json:"end_time"`
	SyncMode    string              `json:"sync_mode,omitempty"`
	Reminders   *[]ReminderSpecView `json:"reminders"`
}

// EventView exposes full details about an event.
type EventView struct {
	EventID       string    `json:"event_id"`
	ContactID     string    `json:"contact_id"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	GoogleEventID *string   `json:"google_event_id,omitempty"`
	Synced        bool      `json:"synced"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SyncView pairs the event with its dual-write outcome.
type SyncView struct {
	Event      EventView `json:"event"`
	SyncStatus string    `json:"sync_status"`
	Notice     string    `json:"notice,omitempty"`
}

// ListEventsResponse packages list results.
type ListEventsResponse struct {
	Items      []EventView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ReminderView exposes one reminder row.
type ReminderView struct {
	ReminderID   string     `json:"reminder_id"`
	Channel      string     `json:"channel"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Message      string     `json:"message"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// ListRemindersResponse packages reminder rows.
type ListRemindersResponse struct {
	Items []ReminderView `json:"items"`
}

func toReminderSpecs(views []ReminderSpecView) []domain.ReminderSpec {
	if views == nil {
		return nil
	}
	specs := make([]domain.ReminderSpec, 0, len(views))
	for _, v := range views {
		specs = append(specs, domain.ReminderSpec{
			Channel:       domain.Channel(v.Channel),
			MinutesBefore: v.MinutesBefore,
			Message:       v.Message,
		})
	}
	return specs
}

func toEventView(event *domain.CrmEvent) EventView {
	return EventView{
		EventID:       event.ID,
		ContactID:     event.ContactID,
		Summary:       event.Summary,
		Description:   event.Description,
		StartTime:     event.StartTime,
		EndTime:       event.EndTime,
		Status:        string(event.Status),
		GoogleEventID: event.GoogleEventID,
		Synced:        event.Synced(),
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.UpdatedAt,
	}
}

func toSyncView(result *domain.SyncResult) SyncView {
	return SyncView{
		Event:      toEventView(result.Event),
		SyncStatus: string(result.Outcome),
		Notice:     result.Notice,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeError(w, statusForKind(kind), string(kind), domain.MessageOf(err))
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindUnknownOrganization, domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNotConnected, domain.KindCredentialCorrupted:
		return http.StatusConflict
	case domain.KindRemoteUnavailable:
		return http.StatusBadGateway
	case domain.KindExchangeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
