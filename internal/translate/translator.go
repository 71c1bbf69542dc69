package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rollingest/internal/store"

	"go.uber.org/zap"
)

// Translator translates original-language record fields into English via
// an HTTP translation service. Any failure degrades to passing the
// original text through unchanged; translation is never fatal.
type Translator struct {
	endpoint string
	target   string
	client   *http.Client
	logger   *zap.Logger
}

const batchSize = 50

// New creates a translator against the given endpoint.
func New(endpoint, targetLang string, logger *zap.Logger) *Translator {
	if targetLang == "" {
		targetLang = "en"
	}
	return &Translator{
		endpoint: endpoint,
		target:   targetLang,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// TranslateRecords fills the *_en fields of each record from its original
// language fields, batching requests to the service.
func (t *Translator) TranslateRecords(ctx context.Context, records []store.Record) []store.Record {
	// Collect the distinct texts so repeated names and addresses are
	// translated once per batch.
	var texts []string
	for _, rec := range records {
		for _, s := range []string{rec.NameOG, rec.RelationOG, rec.AddressOG} {
			if s != "" {
				texts = append(texts, s)
			}
		}
	}
	if len(texts) == 0 {
		return records
	}

	translated := make(map[string]string, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		out, err := t.translateBatch(ctx, batch)
		if err != nil {
			t.logger.Warn("Translation batch failed, passing originals through",
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			continue
		}
		for i, src := range batch {
			if i < len(out) && out[i] != "" {
				translated[src] = out[i]
			}
		}
	}

	for i := range records {
		records[i].NameEN = pick(translated, records[i].NameOG)
		records[i].RelationEN = pick(translated, records[i].RelationOG)
		records[i].AddressEN = pick(translated, records[i].AddressOG)
	}
	return records
}

type translateRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source"`
	Target string   `json:"target"`
}

type translateResponse struct {
	TranslatedText []string `json:"translatedText"`
}

func (t *Translator) translateBatch(ctx context.Context, texts []string) ([]string, error) {
	body, err := json.Marshal(translateRequest{Q: texts, Source: "auto", Target: t.target})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translation service returned HTTP %d", resp.StatusCode)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.TranslatedText, nil
}

func pick(translated map[string]string, original string) string {
	if original == "" {
		return ""
	}
	if tr, ok := translated[original]; ok {
		return tr
	}
	return original
}
