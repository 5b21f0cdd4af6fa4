package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/pkg/lambda"
	"github.com/scribelake/scribe/pkg/types"
)

type fakeRegistry struct {
	docs map[types.DocumentID]lambda.Snapshot
}

func (f *fakeRegistry) Documents() []types.DocumentID {
	out := make([]types.DocumentID, 0, len(f.docs))
	for id := range f.docs {
		out = append(out, id)
	}
	return out
}

func (f *fakeRegistry) Snapshot(docID types.DocumentID) (lambda.Snapshot, bool) {
	snap, ok := f.docs[docID]
	return snap, ok
}

func TestServer_Health(t *testing.T) {
	s := New(&fakeRegistry{}, ":0", nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_DocSnapshot_Found(t *testing.T) {
	reg := &fakeRegistry{docs: map[types.DocumentID]lambda.Snapshot{
		"doc1": {DocID: "doc1", SequenceNumber: 11, ProtocolHead: 11},
	}}
	s := New(reg, ":0", nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/docs/doc1/checkpoint", nil)
	s.router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var snap lambda.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, types.SequenceNumber(11), snap.SequenceNumber)
}

func TestServer_DocSnapshot_NotFound(t *testing.T) {
	s := New(&fakeRegistry{docs: map[types.DocumentID]lambda.Snapshot{}}, ":0", nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/docs/missing/checkpoint", nil)
	s.router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_ListDocs(t *testing.T) {
	reg := &fakeRegistry{docs: map[types.DocumentID]lambda.Snapshot{
		"doc1": {DocID: "doc1"},
		"doc2": {DocID: "doc2"},
	}}
	s := New(reg, ":0", nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/docs", nil)
	s.router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string][]types.DocumentID
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body["documents"], 2)
}
