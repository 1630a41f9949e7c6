package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// SessionArchiver uploads a JSON snapshot of a finished session.
//
// Keys follow {prefix}/{symbol}/{yyyy}/{mm}/{dd}/{uuid}.json.
type SessionArchiver struct {
	writer domain.BlobWriter
	prefix string
	newID  func() string
}

// NewSessionArchiver creates an archiver writing under prefix, e.g.
// "sessions".
func NewSessionArchiver(writer domain.BlobWriter, prefix string) *SessionArchiver {
	if prefix == "" {
		prefix = "sessions"
	}
	return &SessionArchiver{writer: writer, prefix: prefix, newID: uuid.NewString}
}

// Key returns the object key for a session of symbol ending at t.
func (a *SessionArchiver) Key(symbol string, t time.Time) string {
	t = t.UTC()
	return path.Join(a.prefix, symbol,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		a.newID()+".json",
	)
}

// Archive marshals session and uploads it, returning the object key.
func (a *SessionArchiver) Archive(ctx context.Context, symbol string, at time.Time, session any) (string, error) {
	body, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal session: %w", err)
	}

	key := a.Key(symbol, at)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive session: %w", err)
	}
	return key, nil
}
