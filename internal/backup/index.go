package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/model"
)

// IndexEntry is one row of the §6 index.json document.
type IndexEntry struct {
	BackupID  string    `json:"backup_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Location  string    `json:"location"`
}

// index is the top-level document at {bucket_path}/index.json (§6).
type index struct {
	Backups     []IndexEntry `json:"backups"`
	LastUpdated time.Time    `json:"last_updated"`
}

func indexKey(src model.S3Source) string {
	return src.PathPrefix + "/index.json"
}

func (e *Engine) readIndex(ctx context.Context, src model.S3Source) (index, error) {
	cli, err := e.s3Client(ctx, src)
	if err != nil {
		return index{}, err
	}
	out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(src.Bucket), Key: aws.String(indexKey(src))})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if errorsAsNotFound(err, &notFound) {
			return index{}, nil
		}
		return index{}, apperr.Wrap(apperr.External, err, "backup: index read failed")
	}
	defer out.Body.Close()
	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return index{}, apperr.Wrap(apperr.External, err, "backup: index body read failed")
	}
	var idx index
	if len(blob) == 0 {
		return index{}, nil
	}
	if err := json.Unmarshal(blob, &idx); err != nil {
		return index{}, apperr.Wrap(apperr.Internal, err, "backup: index parse failed")
	}
	return idx, nil
}

func (e *Engine) writeIndex(ctx context.Context, src model.S3Source, idx index) error {
	idx.LastUpdated = time.Now()
	blob, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "backup: index marshal failed")
	}
	cli, err := e.s3Client(ctx, src)
	if err != nil {
		return err
	}
	_, err = cli.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(src.Bucket),
		Key:         aws.String(indexKey(src)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return apperr.Wrap(apperr.External, err, "backup: index write failed")
	}
	return nil
}

// appendIndexEntry performs the §4.10 step 6 read-modify-write: read
// current, append the new entry, write atomically back (single-writer
// convention per the schedule, §5, §9 Open Question).
func (e *Engine) appendIndexEntry(ctx context.Context, src model.S3Source, entry IndexEntry) error {
	idx, err := e.readIndex(ctx, src)
	if err != nil {
		return err
	}
	idx.Backups = append(idx.Backups, entry)
	return e.writeIndex(ctx, src, idx)
}

// removeIndexEntries drops every entry whose location is in locations
// (retention sweep, §9 Open Question decision: delete-then-atomic-rewrite).
func (e *Engine) removeIndexEntries(ctx context.Context, src model.S3Source, locations []string) error {
	if len(locations) == 0 {
		return nil
	}
	idx, err := e.readIndex(ctx, src)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(locations))
	for _, l := range locations {
		drop[l] = true
	}
	kept := idx.Backups[:0]
	for _, entry := range idx.Backups {
		if !drop[entry.Location] {
			kept = append(kept, entry)
		}
	}
	idx.Backups = kept
	return e.writeIndex(ctx, src, idx)
}

func errorsAsNotFound(err error, target **smithyhttp.ResponseError) bool {
	type statusCoder interface{ HTTPStatusCode() int }
	var sc statusCoder
	for e := err; e != nil; {
		if asStatusCoder, ok := e.(statusCoder); ok {
			sc = asStatusCoder
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return sc != nil && sc.HTTPStatusCode() == 404
}
