// Package testutil provides an in-memory platform and builders for tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// PostCall is a recorded scripted REST call.
type PostCall struct {
	Path string
	Body any
}

// FakePlatform implements protocol.Transport and protocol.GraphReader in memory.
// It records every GraphQL document and answers lock and flow patch mutations
// the way the platform does.
type FakePlatform struct {
	mu sync.Mutex

	// User is the display name of the identity the fake runs as.
	User string

	tables      map[string][]protocol.Record
	tableErrors map[string]error
	locks       map[string]string
	graphs      map[string]json.RawMessage
	failAt      map[int]error
	nextID      int

	mutations []string
	posts     []PostCall

	// OnPost answers scripted REST calls. Without it every call returns 404.
	OnPost func(path string, body any) (json.RawMessage, error)
	// OnMutate overrides the default GraphQL responder when it returns a non-nil payload or error.
	OnMutate func(query string) (json.RawMessage, error)
}

var _ protocol.Transport = (*FakePlatform)(nil)

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		User:        "System Administrator",
		tables:      map[string][]protocol.Record{},
		tableErrors: map[string]error{},
		locks:       map[string]string{},
		graphs:      map[string]json.RawMessage{},
		failAt:      map[int]error{},
	}
}

func (f *FakePlatform) newID() string {
	f.nextID++

	return fmt.Sprintf("sys%04d", f.nextID)
}

// AddRecord stores a row and returns its sys_id, generating one when absent.
func (f *FakePlatform) AddRecord(table string, r protocol.Record) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := protocol.Record{}
	for k, v := range r {
		row[k] = v
	}

	if row.SysID() == "" {
		row["sys_id"] = f.newID()
	}

	f.tables[table] = append(f.tables[table], row)

	return row.SysID()
}

// Records returns copies of every row of table.
func (f *FakePlatform) Records(table string) []protocol.Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.Record, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, copyRecord(r))
	}

	return out
}

// FailTable makes every read and write of table fail with err.
func (f *FakePlatform) FailTable(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tableErrors[table] = err
}

// FailMutation makes the n-th GraphQL call (1-based) fail with err.
func (f *FakePlatform) FailMutation(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failAt[n] = err
}

// HoldLock marks flowID as being edited by holder.
func (f *FakePlatform) HoldLock(flowID, holder string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.locks[flowID] = holder
}

// LockHolder returns who currently edits flowID.
func (f *FakePlatform) LockHolder(flowID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.locks[flowID]
}

// SetGraph sets the payload returned by GraphPayload.
func (f *FakePlatform) SetGraph(flowID string, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.graphs[flowID] = json.RawMessage(payload)
}

// Mutations returns every GraphQL document received, in order.
func (f *FakePlatform) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.mutations...)
}

// Posts returns every scripted REST call received, in order.
func (f *FakePlatform) Posts() []PostCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]PostCall(nil), f.posts...)
}

func (f *FakePlatform) Query(_ context.Context, table string, q protocol.RecordQuery) ([]protocol.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tableErrors[table]; err != nil {
		return nil, err
	}

	parsed := parseEncoded(q.Query)

	var out []protocol.Record

	for _, r := range f.tables[table] {
		if q.Query == "" || parsed.matches(r) {
			out = append(out, copyRecord(r))
		}
	}

	parsed.sort(out)

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	return out, nil
}

func (f *FakePlatform) Get(_ context.Context, table, sysID string) (protocol.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tableErrors[table]; err != nil {
		return nil, err
	}

	for _, r := range f.tables[table] {
		if r.SysID() == sysID {
			return copyRecord(r), nil
		}
	}

	return nil, flowerrors.NewRemoteError("table.get", 404, "No Record found", table+"/"+sysID)
}

func (f *FakePlatform) Create(_ context.Context, table string, values map[string]any) (protocol.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tableErrors[table]; err != nil {
		return nil, err
	}

	row := protocol.Record{}
	for k, v := range values {
		row[k] = stringify(v)
	}

	if row.SysID() == "" {
		row["sys_id"] = f.newID()
	}

	f.tables[table] = append(f.tables[table], row)

	return copyRecord(row), nil
}

func (f *FakePlatform) Update(_ context.Context, table, sysID string, values map[string]any) (protocol.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tableErrors[table]; err != nil {
		return nil, err
	}

	for _, r := range f.tables[table] {
		if r.SysID() == sysID {
			for k, v := range values {
				r[k] = stringify(v)
			}

			return copyRecord(r), nil
		}
	}

	return nil, flowerrors.NewRemoteError("table.update", 404, "No Record found", table+"/"+sysID)
}

func (f *FakePlatform) Post(_ context.Context, path string, body any) (json.RawMessage, error) {
	f.mu.Lock()
	f.posts = append(f.posts, PostCall{Path: path, Body: body})
	handler := f.OnPost
	f.mu.Unlock()

	if handler == nil {
		return nil, flowerrors.NewRemoteError("rest.post", 404, "Requested URI does not represent any resource", path)
	}

	return handler(path, body)
}

func (f *FakePlatform) GraphPayload(_ context.Context, flowID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.graphs[flowID], nil
}

var (
	flowIDPattern   = regexp.MustCompile(`flowId: "([^"]+)"`)
	insertPattern   = regexp.MustCompile(`uiUniqueIdentifier: "([^"]+)", type: `)
	lockFlowPattern = regexp.MustCompile(`(create|delete): "([^"]+)"`)
)

func (f *FakePlatform) Mutate(_ context.Context, query string) (json.RawMessage, error) {
	f.mu.Lock()
	f.mutations = append(f.mutations, query)
	n := len(f.mutations)
	failure := f.failAt[n]
	override := f.OnMutate
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}

	if override != nil {
		data, err := override(query)
		if data != nil || err != nil {
			return data, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(query, "safeEdit"):
		return f.answerLock(query)
	case strings.Contains(query, "flowPatch"):
		return f.answerPatch(query)
	}

	return json.RawMessage(`{}`), nil
}

func (f *FakePlatform) answerLock(query string) (json.RawMessage, error) {
	m := lockFlowPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, flowerrors.NewRemoteError("graphql", 400, "malformed safeEdit input", "")
	}

	flowID := m[2]
	holder := f.locks[flowID]

	var result any

	if m[1] == "create" {
		canEdit := holder == "" || holder == f.User
		if canEdit {
			f.locks[flowID] = f.User
			holder = f.User
		}

		result = map[string]any{"createResult": map[string]any{"canEdit": canEdit, "editingUserDisplayName": holder}}
	} else {
		if holder == f.User {
			delete(f.locks, flowID)
		}

		result = map[string]any{"deleteResult": map[string]any{"deleteSuccess": holder == "" || holder == f.User}}
	}

	return json.Marshal(map[string]any{"global": map[string]any{"snFlowDesigner": map[string]any{"safeEdit": result}}})
}

func (f *FakePlatform) answerPatch(query string) (json.RawMessage, error) {
	flowID := ""
	if m := flowIDPattern.FindStringSubmatch(query); m != nil {
		flowID = m[1]
	}

	type section struct {
		key   string
		start int
	}

	var sections []section

	for _, kind := range models.ElementKinds {
		if i := strings.Index(query, kind.PatchKey()+": {"); i >= 0 {
			sections = append(sections, section{key: kind.PatchKey(), start: i})
		}
	}

	sort.Slice(sections, func(i, j int) bool { return sections[i].start < sections[j].start })

	end := len(query)
	if i := strings.Index(query, "labelCache: {"); i >= 0 {
		end = i
	}

	flow := map[string]any{"id": flowID}

	for i, s := range sections {
		stop := end
		if i+1 < len(sections) && sections[i+1].start < stop {
			stop = sections[i+1].start
		}

		if stop < s.start {
			stop = len(query)
		}

		inserts := []map[string]any{}
		for _, m := range insertPattern.FindAllStringSubmatch(query[s.start:stop], -1) {
			inserts = append(inserts, map[string]any{"sysId": f.newID(), "uiUniqueIdentifier": m[1]})
		}

		flow[s.key] = map[string]any{"inserts": inserts, "updates": []string{}, "deletes": []string{}}
	}

	return json.Marshal(map[string]any{"global": map[string]any{"snFlowDesigner": map[string]any{"flow": flow}}})
}

func copyRecord(r protocol.Record) protocol.Record {
	out := make(protocol.Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

func stringify(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	default:
		return t
	}
}
