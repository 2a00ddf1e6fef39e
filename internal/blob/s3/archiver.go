package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archivePrefix    = "archive/opportunities/"
	dayLayout        = "2006-01-02"
)

// Archiver implements domain.Archiver. Opportunities older than the cutoff
// are written to one JSONL object per UTC day, then deleted from the store.
// An existing object is never overwritten: a second run for the same day
// writes archive/opportunities/2024-05-01.1.jsonl and so on.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	opps      domain.OpportunityStore
	audit     domain.AuditStore
	multipart int64
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	opps domain.OpportunityStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		opps:      opps,
		audit:     audit,
		multipart: minPartSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// WithMultipartThreshold sets the object size from which a day is uploaded
// in parts. Values <= 0 keep the default of one S3 part.
func (a *Archiver) WithMultipartThreshold(n int64) *Archiver {
	if n > 0 {
		a.multipart = n
	}
	return a
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveOpportunities uploads and then deletes every opportunity created
// before the cutoff. Nothing is deleted unless every upload succeeded.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	days := groupByDay(opps)
	keys := make([]string, 0, len(days))
	for day := range days {
		keys = append(keys, day)
	}
	sort.Strings(keys)

	paths := make([]string, 0, len(keys))
	for _, day := range keys {
		buf, err := marshalJSONL(days[day])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive opportunities marshal %s: %w", day, err)
		}
		path, err := a.freePath(ctx, day)
		if err != nil {
			return 0, err
		}
		if err := a.upload(ctx, path, buf); err != nil {
			return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
		}
		paths = append(paths, path)
	}

	deleted, err := a.opps.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities delete: %w", err)
	}

	a.logger.InfoContext(ctx, "opportunities archived",
		slog.Int("archived", len(opps)),
		slog.Int64("deleted", deleted),
		slog.Int("objects", len(paths)),
		slog.Time("before", before),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditOpportunitiesArchived, map[string]any{
			"paths":   paths,
			"count":   len(opps),
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return int64(len(opps)), fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
		}
	}

	return int64(len(opps)), nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= a.multipart {
		a.logger.DebugContext(ctx, "multipart upload",
			slog.String("path", path),
			slog.Int("bytes", len(buf)),
		)
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// ListArchives returns the archive objects ordered by day and part.
// Foreign keys under the prefix are skipped.
func (a *Archiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if _, _, ok := parseArchivePath(info.Path); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, pi, _ := parseArchivePath(out[i].Path)
		dj, pj, _ := parseArchivePath(out[j].Path)
		if di != dj {
			return di < dj
		}
		return pi < pj
	})
	return out, nil
}

// LoadArchive reads back every part archived for day.
func (a *Archiver) LoadArchive(ctx context.Context, day string) ([]domain.ArbitrageOpportunity, error) {
	if _, err := time.Parse(dayLayout, day); err != nil {
		return nil, fmt.Errorf("s3blob: load archive: %w: day %q", domain.ErrInvalidInput, day)
	}
	infos, err := a.ListArchives(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out   []domain.ArbitrageOpportunity
		found bool
	)
	for _, info := range infos {
		if d, _, _ := parseArchivePath(info.Path); d != day {
			continue
		}
		found = true
		opps, err := a.readPart(ctx, info.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, opps...)
	}
	if !found {
		return nil, fmt.Errorf("s3blob: load archive %s: %w", day, domain.ErrNotFound)
	}
	return out, nil
}

func (a *Archiver) readPart(ctx context.Context, path string) ([]domain.ArbitrageOpportunity, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load archive: %w", err)
	}
	defer body.Close()

	var out []domain.ArbitrageOpportunity
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var o domain.ArbitrageOpportunity
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			return nil, fmt.Errorf("s3blob: load archive %s line %d: %w", path, line, err)
		}
		out = append(out, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: load archive %s: %w", path, err)
	}
	return out, nil
}

// parseArchivePath splits an archive key into its day and part number.
func parseArchivePath(path string) (string, int, bool) {
	name, ok := strings.CutPrefix(path, archivePrefix)
	if !ok {
		return "", 0, false
	}
	name, ok = strings.CutSuffix(name, ".jsonl")
	if !ok {
		return "", 0, false
	}
	day, rest, hasPart := strings.Cut(name, ".")
	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", 0, false
	}
	if !hasPart {
		return day, 0, true
	}
	part, err := strconv.Atoi(rest)
	if err != nil || part < 1 {
		return "", 0, false
	}
	return day, part, true
}

// freePath returns the first archive path for day that is not taken yet.
func (a *Archiver) freePath(ctx context.Context, day string) (string, error) {
	for part := 0; ; part++ {
		path := archivePath("opportunities", day, part)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive opportunities check %s: %w", path, err)
		}
		if !exists {
			return path, nil
		}
		a.logger.DebugContext(ctx, "archive object exists, trying next part", slog.String("path", path))
	}
}

func groupByDay(opps []domain.ArbitrageOpportunity) map[string][]domain.ArbitrageOpportunity {
	out := make(map[string][]domain.ArbitrageOpportunity)
	for _, o := range opps {
		day := o.CreatedAt.UTC().Format(dayLayout)
		out[day] = append(out[day], o)
	}
	return out
}

// archivePath builds the object key for a day's archive:
//
//	archive/opportunities/2024-05-01.jsonl
//	archive/opportunities/2024-05-01.1.jsonl
func archivePath(kind, day string, part int) string {
	if part == 0 {
		return fmt.Sprintf("archive/%s/%s.jsonl", kind, day)
	}
	return fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, day, part)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
