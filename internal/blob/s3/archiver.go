package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"
	archiveExt         = ".jsonl"
)

// AnswerArchiveStore is the part of domain.AnswerStore the archiver needs.
type AnswerArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Answer, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Answers older than the cutoff are
// grouped by the month they were computed in, appended to
// archive/answers/YYYY-MM.jsonl and then deleted from the database. Rows
// are only deleted once every month file has been written.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	answers AnswerArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	answers AnswerArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		answers: answers,
		audit:   audit,
	}
}

// ArchiveAnswers archives every answer computed before the cutoff and
// returns how many were moved.
func (a *ArchiveImpl) ArchiveAnswers(ctx context.Context, before time.Time) (int64, error) {
	answers, err := a.answers.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive answers query: %w", err)
	}
	if len(answers) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.Answer)
	for _, ans := range answers {
		p := archivePath("answers", ans.ComputedAt)
		byMonth[p] = append(byMonth[p], ans)
	}
	paths := make([]string, 0, len(byMonth))
	for p := range byMonth {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := a.appendMonth(ctx, p, byMonth[p]); err != nil {
			return 0, err
		}
	}

	deleted, err := a.answers.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive answers delete: %w", err)
	}

	count := int64(len(answers))
	if err := a.audit.Log(ctx, "archive.answers", map[string]any{
		"paths":   paths,
		"count":   count,
		"deleted": deleted,
		"before":  before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive answers audit log: %w", err)
	}
	return count, nil
}

// appendMonth writes records after any content already stored at path. A
// missing month starts empty.
func (a *ArchiveImpl) appendMonth(ctx context.Context, path string, records []domain.Answer) error {
	var buf bytes.Buffer

	body, err := a.reader.Get(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("s3blob: archive answers read %s: %w", path, err)
	default:
		_, err = io.Copy(&buf, body)
		body.Close()
		if err != nil {
			return fmt.Errorf("s3blob: archive answers read %s: %w", path, err)
		}
	}

	if err := writeJSONL(&buf, records); err != nil {
		return fmt.Errorf("s3blob: archive answers marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("s3blob: archive answers upload %s: %w", path, err)
	}
	return nil
}

// archivePath builds the object key for a month, e.g.
// archive/answers/2020-05.jsonl.
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s%s", kind, t.UTC().Format("2006-01"), archiveExt)
}

// writeJSONL appends one compact JSON document per record.
func writeJSONL[T any](buf *bytes.Buffer, records []T) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
