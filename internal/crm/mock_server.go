// SPDX-License-Identifier: MIT
package crm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockServer provides a configurable CRM mock for testing. It models the
// property-bag API closely enough for coordinator tests: object CRUD,
// associations with calculated properties, batch updates, and fault
// injection per endpoint.
type MockServer struct {
	*httptest.Server
	mu       sync.Mutex
	contacts map[string]map[string]string
	sessions map[string]map[string]string
	bookings map[string]map[string]string
	failures map[string]int // failures before success per path; "*" matches any
	requests []string       // "METHOD /path" in arrival order
	nextID   int
}

// NewMockServer creates a CRM mock with default test data.
func NewMockServer() *MockServer {
	mock := &MockServer{
		contacts: make(map[string]map[string]string),
		sessions: make(map[string]map[string]string),
		bookings: make(map[string]map[string]string),
		failures: make(map[string]int),
		nextID:   9000,
	}

	mock.SetDefaultData()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ping", mock.handlePing)
	mux.HandleFunc("/api/v1/objects/", mock.handleObjects)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// SetDefaultData sets up realistic test data.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setDefaultDataNoLock()
}

func (m *MockServer) setDefaultDataNoLock() {
	m.contacts["42"] = map[string]string{
		"email":           "jane.doe@prepmock.ca",
		"firstname":       "Jane",
		"lastname":        "Doe",
		"student_id":      "A12345",
		"sj":              "2",
		"cs":              "1",
		"sjmini":          "0",
		"mock_discussion": "3",
		"shared":          "1",
		"cohort":          "2026-spring",
	}

	m.sessions["901"] = map[string]string{
		"mock_type":      "Situational Judgment",
		"exam_date":      "2026-10-15",
		"start_time":     "09:00",
		"end_time":       "12:00",
		"location":       "Toronto",
		"capacity":       "30",
		"total_bookings": "12",
		"is_active":      "true",
	}
	m.sessions["902"] = map[string]string{
		"mock_type":                     "Clinical Skills",
		"exam_date":                     "2026-11-05",
		"start_time":                    "13:00",
		"end_time":                      "17:00",
		"location":                      "Vancouver",
		"capacity":                      "24",
		"total_bookings":                "0",
		"is_active":                     "scheduled",
		"scheduled_activation_datetime": "2026-09-01T12:00:00Z",
	}

	m.bookings["7001"] = map[string]string{
		"booking_id":         "Situational Judgment-Jane Doe - October 15, 2026",
		"associated_session": "901",
		"associated_contact": "42",
		"name":               "Jane Doe",
		"email":              "jane.doe@prepmock.ca",
		"mock_type":          "Situational Judgment",
		"exam_date":          "2026-10-15",
		"start_time":         "09:00",
		"end_time":           "12:00",
		"is_active":          "Active",
		"token_used":         "sj",
		"idempotency_key":    "idem_0f2c6a1d9b8e47c5a3f012d4e6b89a7c",
	}
}

// AddContact registers a contact record.
func (m *MockServer) AddContact(id string, props map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[id] = cloneProps(props)
}

// AddSession registers a session record.
func (m *MockServer) AddSession(id string, props map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = cloneProps(props)
}

// AddBooking registers a booking record.
func (m *MockServer) AddBooking(id string, props map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[id] = cloneProps(props)
}

// SetFailures sets the number of failures before success for a path.
// The path "*" fails every request until the count is used up.
func (m *MockServer) SetFailures(path string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = count
}

// Contact returns a copy of a contact's property bag, or nil.
func (m *MockServer) Contact(id string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneProps(m.contacts[id])
}

// Session returns a copy of a session's property bag, or nil.
func (m *MockServer) Session(id string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneProps(m.sessions[id])
}

// Booking returns a copy of a booking's property bag, or nil.
func (m *MockServer) Booking(id string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneProps(m.bookings[id])
}

// Requests returns every request seen so far as "METHOD /path".
func (m *MockServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears all mock data and resets to defaults.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.contacts = make(map[string]map[string]string)
	m.sessions = make(map[string]map[string]string)
	m.bookings = make(map[string]map[string]string)
	m.failures = make(map[string]int)
	m.requests = nil
	m.nextID = 9000

	m.setDefaultDataNoLock()
}

func cloneProps(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func (m *MockServer) handlePing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r.Method+" "+r.URL.Path)
	if m.failNoLock(r.URL.Path) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// failNoLock consumes one injected failure if armed. Caller holds the lock.
func (m *MockServer) failNoLock(path string) bool {
	if n := m.failures["*"]; n > 0 {
		m.failures["*"]--
		return true
	}
	if n := m.failures[path]; n > 0 {
		m.failures[path]--
		return true
	}
	return false
}

func (m *MockServer) collection(objType string) map[string]map[string]string {
	switch objType {
	case objectContacts:
		return m.contacts
	case objectSessions:
		return m.sessions
	case objectBookings:
		return m.bookings
	default:
		return nil
	}
}

// handleObjects routes /api/v1/objects/{type}[/{id}[/associations/{toType}/{toId}]]
// and /api/v1/objects/{type}/batch/update.
func (m *MockServer) handleObjects(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r.Method+" "+r.URL.Path)

	if m.failNoLock(r.URL.Path) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/objects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	coll := m.collection(parts[0])
	if coll == nil {
		http.Error(w, "unknown object type", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		m.handleCollection(w, r, parts[0], coll)
	case len(parts) == 3 && parts[1] == "batch" && parts[2] == "update":
		m.handleBatchUpdate(w, r, coll)
	case len(parts) == 2:
		m.handleRecord(w, r, coll, parts[1])
	case len(parts) == 5 && parts[0] == objectBookings && parts[2] == "associations":
		m.handleAssociation(w, r, parts[1], parts[3], parts[4])
	default:
		http.Error(w, "bad path", http.StatusNotFound)
	}
}

func (m *MockServer) handleCollection(w http.ResponseWriter, r *http.Request, objType string, coll map[string]map[string]string) {
	switch r.Method {
	case http.MethodGet:
		if objType != objectBookings {
			http.Error(w, "listing not supported", http.StatusMethodNotAllowed)
			return
		}
		contactID := r.URL.Query().Get("contact")
		page := objectPage{Results: []object{}}
		for id, props := range coll {
			if contactID != "" && props["associated_contact"] != contactID {
				continue
			}
			page.Results = append(page.Results, toObject(id, props))
		}
		page.Total = len(page.Results)
		writeJSON(w, http.StatusOK, page)

	case http.MethodPost:
		var body propertiesBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.nextID++
		id := strconv.Itoa(m.nextID)
		props := cloneProps(body.Properties)
		if props == nil {
			props = make(map[string]string)
		}
		// New bookings enter the pipeline Active unless the caller says
		// otherwise, matching the CRM's pipeline default.
		if objType == objectBookings && props["is_active"] == "" {
			props["is_active"] = "Active"
		}
		coll[id] = props
		writeJSON(w, http.StatusCreated, toObject(id, props))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleRecord(w http.ResponseWriter, r *http.Request, coll map[string]map[string]string, id string) {
	props, ok := coll[id]
	if !ok {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toObject(id, props))

	case http.MethodPatch:
		var body propertiesBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		for k, v := range body.Properties {
			props[k] = v
		}
		writeJSON(w, http.StatusOK, toObject(id, props))

	case http.MethodDelete:
		delete(coll, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleBatchUpdate(w http.ResponseWriter, r *http.Request, coll map[string]map[string]string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body batchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	for _, in := range body.Inputs {
		if _, ok := coll[in.ID]; !ok {
			http.Error(w, "record not found: "+in.ID, http.StatusNotFound)
			return
		}
	}
	for _, in := range body.Inputs {
		for k, v := range in.Properties {
			coll[in.ID][k] = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAssociation links or unlinks a booking. Linking a session also
// copies the session-derived properties onto the booking, the way the real
// CRM's calculated-property pipeline does.
func (m *MockServer) handleAssociation(w http.ResponseWriter, r *http.Request, bookingID, toType, toID string) {
	booking, ok := m.bookings[bookingID]
	if !ok {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}

	var prop string
	switch toType {
	case objectContacts:
		prop = "associated_contact"
	case objectSessions:
		prop = "associated_session"
	default:
		http.Error(w, "unknown association type", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if _, ok := m.collection(toType)[toID]; !ok {
			http.Error(w, "association target not found", http.StatusNotFound)
			return
		}
		booking[prop] = toID
		if toType == objectSessions {
			session := m.sessions[toID]
			for _, k := range []string{"mock_type", "exam_date", "start_time", "end_time", "location"} {
				if v, ok := session[k]; ok {
					booking[k] = v
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if booking[prop] == toID {
			delete(booking, prop)
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func toObject(id string, props map[string]string) object {
	raw := make(map[string]json.RawMessage, len(props))
	for k, v := range props {
		b, _ := json.Marshal(v)
		raw[k] = b
	}
	return object{ID: id, Properties: raw}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
