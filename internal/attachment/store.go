// Package attachment stores notification attachments as content-addressed
// blobs: the row is keyed by checksum, so uploading the same content twice
// reuses the stored file, and resolves attachment references into
// transmittable handles at dispatch time.
package attachment

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/notifyd/notifyd/internal/adapter"
)

// ErrAttachmentNotFound is returned when an attachment id does not exist.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Store persists attachment metadata in the database and blobs on disk.
type Store struct {
	db  *dbpg.DB
	dir string
}

// NewStore creates an attachment store writing blobs under dir.
func NewStore(db *dbpg.DB, dir string) *Store {
	return &Store{db: db, dir: dir}
}

// Upload stores content under its checksum and returns the attachment id.
// If a blob with the same checksum already exists, its row is reused and no
// new file is written.
func (s *Store) Upload(ctx context.Context, fileName, contentType string, content []byte) (uuid.UUID, error) {
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	var id uuid.UUID
	err := s.db.Master.QueryRowContext(ctx, `
		SELECT id FROM attachment_files WHERE checksum = $1;
    `, checksum).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("lookup attachment by checksum: %w", err)
	}

	path := filepath.Join(s.dir, checksum)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("write attachment blob: %w", err)
	}

	// Two concurrent uploads of the same content both miss the lookup; the
	// upsert makes the loser land on the winner's row instead of a unique
	// constraint error. The blob write above is idempotent, same bytes under
	// the same checksum path.
	err = s.db.Master.QueryRowContext(ctx, `
		INSERT INTO attachment_files (checksum, file_name, content_type, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checksum) DO UPDATE SET checksum = EXCLUDED.checksum
		RETURNING id;
    `, checksum, fileName, contentType, len(content)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert attachment: %w", err)
	}

	return id, nil
}

// Resolve loads the attachments referenced by ids into transmittable handles.
func (s *Store) Resolve(ctx context.Context, ids []uuid.UUID) ([]adapter.File, error) {
	files := make([]adapter.File, 0, len(ids))

	for _, id := range ids {
		var (
			checksum    string
			fileName    string
			contentType string
		)

		err := s.db.Master.QueryRowContext(ctx, `
			SELECT checksum, file_name, content_type
			FROM attachment_files
			WHERE id = $1;
	    `, id).Scan(&checksum, &fileName, &contentType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, id)
			}

			return nil, fmt.Errorf("load attachment %s: %w", id, err)
		}

		data, err := os.ReadFile(filepath.Join(s.dir, checksum))
		if err != nil {
			return nil, fmt.Errorf("read attachment blob %s: %w", id, err)
		}

		files = append(files, adapter.File{
			Name:        fileName,
			ContentType: contentType,
			Data:        data,
		})
	}

	return files, nil
}
