package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rollingest/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		var req struct {
			Q      []string `json:"q"`
			Target string   `json:"target"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en", req.Target)

		out := make([]string, len(req.Q))
		for i, q := range req.Q {
			out[i] = q + " (en)"
		}
		json.NewEncoder(w).Encode(map[string][]string{"translatedText": out})
	}))
}

func TestTranslateRecordsFillsEnglishFields(t *testing.T) {
	server := echoServer(t, nil)
	defer server.Close()

	tr := New(server.URL, "en", zap.NewNop())
	records := tr.TranslateRecords(context.Background(), []store.Record{
		{NameOG: "आशा देवी", RelationOG: "राम प्रसाद", AddressOG: "वार्ड 4"},
		{NameOG: "रवि कुमार"},
	})

	require.Len(t, records, 2)
	assert.Equal(t, "आशा देवी (en)", records[0].NameEN)
	assert.Equal(t, "राम प्रसाद (en)", records[0].RelationEN)
	assert.Equal(t, "वार्ड 4 (en)", records[0].AddressEN)
	assert.Equal(t, "रवि कुमार (en)", records[1].NameEN)
	assert.Empty(t, records[1].RelationEN)
}

func TestTranslateRecordsBatches(t *testing.T) {
	var calls int64
	server := echoServer(t, &calls)
	defer server.Close()

	// 120 distinct names = 3 batches of 50.
	records := make([]store.Record, 120)
	for i := range records {
		records[i].NameOG = string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	tr := New(server.URL, "en", zap.NewNop())
	out := tr.TranslateRecords(context.Background(), records)

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	for _, rec := range out {
		assert.Equal(t, rec.NameOG+" (en)", rec.NameEN)
	}
}

func TestTranslateRecordsDegradesToPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := New(server.URL, "en", zap.NewNop())
	records := tr.TranslateRecords(context.Background(), []store.Record{
		{NameOG: "Asha Devi", AddressOG: "Ward 4"},
	})

	require.Len(t, records, 1)
	assert.Equal(t, "Asha Devi", records[0].NameEN)
	assert.Equal(t, "Ward 4", records[0].AddressEN)
}

func TestTranslateRecordsUnreachableService(t *testing.T) {
	tr := New("http://127.0.0.1:1/translate", "en", zap.NewNop())
	records := tr.TranslateRecords(context.Background(), []store.Record{{NameOG: "Asha"}})

	require.Len(t, records, 1)
	assert.Equal(t, "Asha", records[0].NameEN)
}

func TestTranslateRecordsNoTexts(t *testing.T) {
	tr := New("http://unused.test", "en", zap.NewNop())
	records := tr.TranslateRecords(context.Background(), []store.Record{{Age: 30}})

	require.Len(t, records, 1)
	assert.Empty(t, records[0].NameEN)
}
