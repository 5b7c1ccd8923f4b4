// Package extractor persists attachments from matched replies and records
// every attempt, saved or skipped, in the attachment log.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/utils"
)

var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)

// Extractor saves accepted attachments under the base directory, grouped by
// collection id, and logs one AttachmentRecord per attempted attachment.
type Extractor struct {
	store   *logstore.Store
	fileMgr utils.FileManager
	logger  *slog.Logger
	baseDir string
	maxSize int64
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithFileManager(fm utils.FileManager) Option {
	return func(e *Extractor) {
		e.fileMgr = fm
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New builds an Extractor. maxSize is the inclusive size limit in bytes;
// zero disables the limit.
func New(store *logstore.Store, baseDir string, maxSize int64, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		store:   store,
		fileMgr: utils.OSFileManager{},
		logger:  logger,
		baseDir: baseDir,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs against a newly-logged reply only; re-running against an
// already-logged reply is the caller's bug, not a state this method
// detects. A failure on one attachment never aborts its siblings.
func (e *Extractor) Extract(ctx context.Context, reply logstore.ReplyRecord, msg mailer.Message) ([]logstore.AttachmentRecord, error) {
	meta, _, err := e.store.OutboundByToken(ctx, reply.Token)
	if err != nil {
		return nil, errors.Wrap(err, "load outbound metadata")
	}

	atts, err := msg.Attachments()
	if err != nil {
		return nil, errors.Wrap(err, "list attachments")
	}

	destDir := filepath.Join(e.baseDir, orDefault(sanitizeFilename(meta.CollectionID), "uncategorized"))
	records := make([]logstore.AttachmentRecord, 0, len(atts))

	for i, att := range atts {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec := e.extractOne(destDir, meta, reply, i, att)
		if err := e.store.InsertAttachment(ctx, rec); err != nil {
			return records, errors.Wrap(err, "append attachment record")
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *Extractor) extractOne(destDir string, meta logstore.OutboundRecord, reply logstore.ReplyRecord, idx int, att mailer.Attachment) logstore.AttachmentRecord {
	origName := sanitizeFilename(att.Filename())
	if origName == "" {
		origName = fmt.Sprintf("attachment_%d", idx+1)
	}

	rec := logstore.AttachmentRecord{
		Token:        reply.Token,
		MessageID:    reply.MessageID,
		OriginalName: origName,
		SizeBytes:    att.Size(),
		CreatedAt:    e.now(),
	}

	if att.Inline() {
		rec.Status = logstore.AttachmentInline
		e.logger.Debug("skipped inline attachment", "token", reply.Token, "name", origName)
		return rec
	}
	if e.maxSize > 0 && att.Size() > e.maxSize {
		rec.Status = logstore.AttachmentTooLarge
		e.logger.Warn("skipped oversized attachment",
			"token", reply.Token, "name", origName, "size", att.Size(), "limit", e.maxSize)
		return rec
	}

	data, err := att.Read()
	if err != nil {
		rec.Status = logstore.AttachmentCorrupted
		e.logger.Warn("failed to read attachment", "token", reply.Token, "name", origName, "error", err)
		return rec
	}

	// Saved name follows the outbound metadata: <company>_<token><ext>.
	ext := strings.ToLower(filepath.Ext(origName))
	nameCore := sanitizeFilename(reply.Token)
	if company := sanitizeFilename(meta.Company); company != "" {
		nameCore = company + "_" + nameCore
	}

	if err := e.fileMgr.MkdirAll(destDir, 0o755); err != nil {
		rec.Status = logstore.AttachmentCorrupted
		e.logger.Warn("failed to create destination directory", "dir", destDir, "error", err)
		return rec
	}

	savedPath := e.uniquePath(destDir, nameCore+ext)
	if err := e.fileMgr.WriteFile(savedPath, data, 0o644); err != nil {
		rec.Status = logstore.AttachmentCorrupted
		e.logger.Warn("failed to save attachment", "path", savedPath, "error", err)
		return rec
	}

	sum := sha256.Sum256(data)
	rec.Status = logstore.AttachmentSaved
	rec.SavedName = filepath.Base(savedPath)
	rec.SavedPath = savedPath
	rec.SHA256 = hex.EncodeToString(sum[:])
	e.logger.Info("saved attachment", "token", reply.Token, "path", savedPath, "size", att.Size())
	return rec
}

// uniquePath appends (1), (2), ... before the extension until the target
// does not exist, so a same-named attachment never overwrites another.
func (e *Extractor) uniquePath(dir, base string) string {
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	path := filepath.Join(dir, base)
	for idx := 1; e.fileMgr.Exists(path); idx++ {
		path = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", name, idx, ext))
	}
	return path
}

func sanitizeFilename(name string) string {
	return strings.TrimSpace(invalidFilenameChars.ReplaceAllString(name, "_"))
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
