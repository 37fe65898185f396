// Package blob stores every license record in a single remote JSON document
// fetched and written whole over HTTP.
//
// The remote has no conditional write. Replace re-reads the document and
// compares revisions under a process-wide mutex, which serializes writers in
// this process only; writers on other hosts still race and the last PUT wins.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MrSnakeDoc/licensed/internal/domain"
	"github.com/MrSnakeDoc/licensed/internal/utils"
)

const maxDocumentBytes = 16 << 20

// Options configures the remote document.
type Options struct {
	URL         string // document endpoint, GET to read and PUT to replace
	Token       string // optional access token
	TokenHeader string // header carrying Token (ex: "X-Master-Key")
	EnvelopeKey string // when set, GET responses wrap the document under this key
	Timeout     time.Duration
	Client      *http.Client
}

type Store struct {
	opts   Options
	client *http.Client
	mu     sync.Mutex
}

func NewStore(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.New("blob store: url is required")
	}
	if opts.Token != "" && opts.TokenHeader == "" {
		opts.TokenHeader = "Authorization"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Store{opts: opts, client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Record, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return decodeRecord(doc, key)
}

func (s *Store) Replace(ctx context.Context, key string, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	current, err := decodeRecord(doc, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if rec.Revision != "" {
			return fmt.Errorf("replace %s: record vanished: %w", key, domain.ErrConflict)
		}
	case err != nil:
		return err
	case current.Revision != rec.Revision:
		return fmt.Errorf("replace %s: %w", key, domain.ErrConflict)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal license: %w", err)
	}
	merged, err := mergeFields(doc[key], data)
	if err != nil {
		return fmt.Errorf("failed to merge license %s: %w", key, err)
	}
	doc[key] = merged

	if err := s.put(ctx, doc); err != nil {
		return err
	}

	rec.Key = key
	rec.Revision = revisionOf(data)
	return nil
}

// Ping reads the document once.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.fetch(ctx)
	return err
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) fetch(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	if s.opts.EnvelopeKey != "" {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		inner, ok := env[s.opts.EnvelopeKey]
		if !ok {
			return nil, fmt.Errorf("decode envelope: key %q missing", s.opts.EnvelopeKey)
		}
		body = inner
	}

	doc := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func (s *Store) put(ctx context.Context, doc map[string]json.RawMessage) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	defer utils.Close(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("write document: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Store) authorize(req *http.Request) {
	if s.opts.Token != "" {
		req.Header.Set(s.opts.TokenHeader, s.opts.Token)
	}
}

func decodeRecord(doc map[string]json.RawMessage, key string) (*domain.Record, error) {
	raw, ok := doc[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &domain.NotFoundError{Key: key}
	}

	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal license %s: %w", key, err)
	}

	// Revision is derived from the normalized encoding so formatting done by
	// the remote does not look like a concurrent change.
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal license %s: %w", key, err)
	}
	rec.Key = key
	rec.Revision = revisionOf(data)
	return &rec, nil
}

// mergeFields overlays the record's fields on the stored entry so fields
// this service does not model survive a write.
func mergeFields(prev json.RawMessage, data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(prev, &fields); err != nil || fields == nil {
		return data, nil
	}

	var known map[string]json.RawMessage
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		fields[k] = v
	}
	return json.Marshal(fields)
}

func revisionOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
