package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/boltstore"
	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/processor"
	"github.com/apittopti/diagflow/internal/store"
)

// One short session against ECU 10: session control plus a VIN read, with a
// header line the decoder skips.
const sampleTrace = `# DoIP capture veh-001
12:00:00.100 | [Local]->[Remote] DATA => mod[doip] [DOIP] cmd[send] args[18DA10F1] data[02,10,01]
12:00:00.150 | [Remote]->[Local] DATA => mod[doip] [DOIP] cmd[recv] args[18DA10F1] data[02,50,01]
12:00:00.200 | [Local]->[Remote] DATA => mod[doip] [DOIP] cmd[send] args[18DA10F1] data[03,22,F1,90]
12:00:00.250 | [Remote]->[Local] DATA => mod[doip] [DOIP] cmd[recv] args[18DA10F1] data[05,62,F1,90,41,42]
`

// memCuration backs both the job bookkeeping and the curation endpoints in
// tests, standing in for the Postgres store.
type memCuration struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*store.JobRow
	defs     map[uuid.UUID]*knowledge.Definition
	contexts map[string]knowledge.Context
}

func newMemCuration() *memCuration {
	return &memCuration{
		jobs:     make(map[uuid.UUID]*store.JobRow),
		defs:     make(map[uuid.UUID]*knowledge.Definition),
		contexts: make(map[string]knowledge.Context),
	}
}

func (m *memCuration) CreateJob(_ context.Context, vehicleID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	now := time.Now().UTC()
	m.jobs[id] = &store.JobRow{ID: id, VehicleID: vehicleID, Status: store.JobPending, CreatedAt: now, UpdatedAt: now}
	return id, nil
}

func (m *memCuration) StartJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Status = store.JobRunning
	}
	return nil
}

func (m *memCuration) CompleteJob(_ context.Context, id uuid.UUID, counts store.JobCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = store.JobCompleted
	job.Lines = counts.Lines
	job.Decoded = counts.Decoded
	job.Messages = counts.Messages
	job.ECUs = counts.ECUs
	job.Definitions = counts.Definitions
	job.FinishedAt = &now
	return nil
}

func (m *memCuration) FailJob(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Status = store.JobFailed
		job.Error = reason
	}
	return nil
}

func (m *memCuration) GetJob(_ context.Context, id uuid.UUID) (*store.JobRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *memCuration) RecentJobs(_ context.Context, limit int) ([]store.JobRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]store.JobRow, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (m *memCuration) GetDefinition(_ context.Context, id uuid.UUID) (*knowledge.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return nil, nil
	}
	cp := *def
	return &cp, nil
}

func (m *memCuration) SetVerified(_ context.Context, id uuid.UUID, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return store.ErrNotFound
	}
	def.IsVerified = verified
	return nil
}

func (m *memCuration) InsertRevision(_ context.Context, id uuid.UUID, name string, payload json.RawMessage, source string) (*knowledge.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base, ok := m.defs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rev := *base
	rev.ID = uuid.New()
	rev.Version = base.Version + 1
	if name != "" {
		rev.Name = name
	}
	if len(payload) > 0 {
		rev.Payload = payload
	}
	if source != "" {
		rev.Source = source
	}
	m.defs[rev.ID] = &rev
	return &rev, nil
}

func (m *memCuration) VehicleContext(_ context.Context, vehicleID string) (knowledge.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.contexts[vehicleID]; ok {
		return rc, nil
	}
	return knowledge.Context{VehicleID: vehicleID}, nil
}

func newTestServer(t *testing.T, token string) (*Server, *memCuration, *boltstore.Store) {
	t.Helper()
	defs, err := boltstore.Open(filepath.Join(t.TempDir(), "defs.db"))
	if err != nil {
		t.Fatalf("open definition store: %v", err)
	}
	t.Cleanup(func() { defs.Close() })

	cur := newMemCuration()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := processor.New(defs, cur, nil, nil, nil, knownids.Standard(), logger)
	return NewServer(8760, token, proc, defs, cur, logger), cur, defs
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, srv *Server, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return doRequest(t, srv, method, path, token, bytes.NewReader(body))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "ok" {
		t.Errorf("health body = %v", health)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/diagflow/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	var status map[string]string
	decodeBody(t, rec, &status)
	if status["service"] != "diagflow" {
		t.Errorf("status body = %v", status)
	}

	rec = doRequest(t, srv, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCreateJob(t *testing.T) {
	srv, cur, _ := newTestServer(t, "")

	payload := map[string]any{
		"name":      "bench capture",
		"vehicleId": "veh-001",
		"traceFiles": []map[string]string{
			{"name": "capture.txt", "content": sampleTrace},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/jobs", "", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		Status             string `json:"status"`
		Lines              int    `json:"lines"`
		MessageCount       int    `json:"messageCount"`
		ECUCount           int    `json:"ecuCount"`
		DefinitionsCreated int    `json:"definitionsCreated"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "completed" {
		t.Errorf("Status = %q, want completed", resp.Status)
	}
	if resp.Name != "bench capture" {
		t.Errorf("Name = %q", resp.Name)
	}
	if resp.Lines != 5 || resp.MessageCount != 4 {
		t.Errorf("Lines = %d, MessageCount = %d, want 5 and 4", resp.Lines, resp.MessageCount)
	}
	if resp.ECUCount != 1 {
		t.Errorf("ECUCount = %d, want 1", resp.ECUCount)
	}
	// ECU 10, services 10/50/22/62, DID F190.
	if resp.DefinitionsCreated != 6 {
		t.Errorf("DefinitionsCreated = %d, want 6", resp.DefinitionsCreated)
	}

	jobID, err := uuid.Parse(resp.ID)
	if err != nil {
		t.Fatalf("job id %q: %v", resp.ID, err)
	}
	if cur.jobs[jobID] == nil {
		t.Fatal("job row not recorded")
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+resp.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d, want %d", rec.Code, http.StatusOK)
	}
	var job store.JobRow
	decodeBody(t, rec, &job)
	if job.Status != store.JobCompleted {
		t.Errorf("job status = %q, want %q", job.Status, store.JobCompleted)
	}
	if job.Definitions != 6 {
		t.Errorf("job definitions = %d, want 6", job.Definitions)
	}
	if job.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("job count = %d, want 1", list.Count)
	}
}

func TestCreateJobValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing vehicle", `{"traceFiles":[{"name":"t","content":"x"}]}`},
		{"no trace files", `{"vehicleId":"veh-001"}`},
		{"empty contents", `{"vehicleId":"veh-001","traceFiles":[{"name":"t","content":""}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", "", strings.NewReader(tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetJobErrors(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/not-a-uuid", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func seedDefinition(t *testing.T, defs *boltstore.Store, def knowledge.Definition) {
	t.Helper()
	def.ID = uuid.New()
	if _, err := defs.Upsert(context.Background(), &def); err != nil {
		t.Fatalf("seed definition: %v", err)
	}
}

func TestResolveDefinition(t *testing.T) {
	srv, _, defs := newTestServer(t, "")

	seedDefinition(t, defs, knowledge.Definition{
		Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelGlobal, ScopeID: knowledge.GlobalScope,
		Name: "VIN Data Identifier", Confidence: knowledge.ConfidenceLow,
	})
	seedDefinition(t, defs, knowledge.Definition{
		Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelVehicle, ScopeID: "veh-001", ECUAddress: "10",
		Name: "VIN (gateway)", Confidence: knowledge.ConfidenceHigh,
	})

	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/definitions/resolve?kind=DID&identifier=F190&vehicleId=veh-001&ecu=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", rec.Code, rec.Body.String())
	}
	var def knowledge.Definition
	decodeBody(t, rec, &def)
	if def.Name != "VIN (gateway)" || def.Level != knowledge.LevelVehicle {
		t.Errorf("resolved %q at %s, want vehicle-level VIN (gateway)", def.Name, def.Level)
	}

	// No vehicle context: only the global ring is consulted.
	rec = doRequest(t, srv, http.MethodGet,
		"/api/v1/definitions/resolve?kind=DID&identifier=F190", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("global resolve status = %d", rec.Code)
	}
	decodeBody(t, rec, &def)
	if def.Level != knowledge.LevelGlobal {
		t.Errorf("resolved level = %s, want %s", def.Level, knowledge.LevelGlobal)
	}

	rec = doRequest(t, srv, http.MethodGet,
		"/api/v1/definitions/resolve?kind=DID&identifier=0000", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown identifier status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/definitions/resolve?kind=DID", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing identifier status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDefinitionChain(t *testing.T) {
	srv, cur, defs := newTestServer(t, "")

	cur.contexts["veh-001"] = knowledge.Context{
		VehicleID: "veh-001", ModelYearID: "my-2024", ModelID: "astra-k", OEMID: "opel",
	}
	seedDefinition(t, defs, knowledge.Definition{
		Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelGlobal, ScopeID: knowledge.GlobalScope,
		Name: "VIN Data Identifier",
	})
	seedDefinition(t, defs, knowledge.Definition{
		Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelVehicle, ScopeID: "veh-001", ECUAddress: "10",
		Name: "VIN (gateway)",
	})

	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/definitions/chain?kind=DID&identifier=F190&vehicleId=veh-001&ecu=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chain status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Chain []knowledge.ChainEntry `json:"chain"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Chain) != 5 {
		t.Fatalf("chain length = %d, want 5", len(resp.Chain))
	}
	first := resp.Chain[0]
	if first.Level != knowledge.LevelVehicle || !first.IsActive || first.Definition == nil {
		t.Errorf("first entry = %+v, want active vehicle match", first)
	}
	last := resp.Chain[len(resp.Chain)-1]
	if last.Level != knowledge.LevelGlobal || last.IsActive || last.Definition == nil {
		t.Errorf("last entry = %+v, want inactive global match", last)
	}
	for _, entry := range resp.Chain[1:4] {
		if entry.Definition != nil {
			t.Errorf("level %s has unexpected definition", entry.Level)
		}
	}
}

func TestListDefinitions(t *testing.T) {
	srv, _, defs := newTestServer(t, "")

	seedDefinition(t, defs, knowledge.Definition{
		Kind: knowledge.KindService, Identifier: "22",
		Level: knowledge.LevelGlobal, ScopeID: knowledge.GlobalScope,
		Name: "ReadDataByIdentifier",
	})

	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/definitions?level=GLOBAL&scope=global&kind=SERVICE", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Definitions []knowledge.Definition `json:"definitions"`
		Count       int                    `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || len(resp.Definitions) != 1 {
		t.Fatalf("count = %d, definitions = %d, want 1", resp.Count, len(resp.Definitions))
	}
	if resp.Definitions[0].Name != "ReadDataByIdentifier" {
		t.Errorf("Name = %q", resp.Definitions[0].Name)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/definitions?level=GLOBAL", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing params status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestVerifyDefinition(t *testing.T) {
	srv, cur, _ := newTestServer(t, "")

	id := uuid.New()
	cur.defs[id] = &knowledge.Definition{
		ID: id, Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelGlobal, ScopeID: knowledge.GlobalScope,
		Name: "VIN Data Identifier", Version: 1,
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/definitions/"+id.String()+"/verify", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}
	if !cur.defs[id].IsVerified {
		t.Error("definition not marked verified")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/definitions/"+id.String()+"/verify", "",
		map[string]bool{"verified": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("unverify status = %d", rec.Code)
	}
	if cur.defs[id].IsVerified {
		t.Error("verified flag not cleared")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/definitions/"+uuid.NewString()+"/verify", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/definitions/nope/verify", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestReviseDefinition(t *testing.T) {
	srv, cur, _ := newTestServer(t, "")

	id := uuid.New()
	cur.defs[id] = &knowledge.Definition{
		ID: id, Kind: knowledge.KindDID, Identifier: "F190",
		Level: knowledge.LevelGlobal, ScopeID: knowledge.GlobalScope,
		Name: "VIN Data Identifier", Version: 1, Source: "discovery",
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/definitions/"+id.String()+"/revise", "",
		map[string]string{"name": "VIN (curated)"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("revise status = %d: %s", rec.Code, rec.Body.String())
	}
	var rev knowledge.Definition
	decodeBody(t, rec, &rev)
	if rev.Version != 2 {
		t.Errorf("Version = %d, want 2", rev.Version)
	}
	if rev.Name != "VIN (curated)" {
		t.Errorf("Name = %q", rev.Name)
	}
	if rev.Source != "curation" {
		t.Errorf("Source = %q, want curation", rev.Source)
	}
	if rev.ID == id {
		t.Error("revision reused the base id")
	}
	if cur.defs[id].Name != "VIN Data Identifier" {
		t.Error("base definition mutated")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/definitions/"+id.String()+"/revise", "",
		map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty revision status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/definitions/"+uuid.NewString()+"/revise", "",
		map[string]string{"name": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "s3cret")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs", "s3cret", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Liveness and service status stay open.
	rec = doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/diagflow/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want %d", rec.Code, http.StatusOK)
	}
}
