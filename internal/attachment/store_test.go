package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, string) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	dir := t.TempDir()
	store := NewStore(&dbpg.DB{Master: db}, dir)

	return store, mock, dir
}

var (
	lookupQuery  = regexp.QuoteMeta("SELECT id FROM attachment_files WHERE checksum = $1")
	insertQuery  = regexp.QuoteMeta("ON CONFLICT (checksum) DO UPDATE SET checksum = EXCLUDED.checksum")
	resolveQuery = regexp.QuoteMeta("SELECT checksum, file_name, content_type")
)

func TestUploadWritesBlobAndRow(t *testing.T) {
	store, mock, dir := setupMockStore(t)

	content := []byte("invoice body")
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	id := uuid.New()

	mock.ExpectQuery(lookupQuery).
		WithArgs(checksum).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectQuery(insertQuery).
		WithArgs(checksum, "invoice.pdf", "application/pdf", len(content)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))

	got, err := store.Upload(context.Background(), "invoice.pdf", "application/pdf", content)
	assert.NoError(t, err)
	assert.Equal(t, id, got)

	data, err := os.ReadFile(filepath.Join(dir, checksum))
	assert.NoError(t, err)
	assert.Equal(t, content, data)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadReusesExistingChecksum(t *testing.T) {
	store, mock, dir := setupMockStore(t)

	content := []byte("same bytes")
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	id := uuid.New()

	mock.ExpectQuery(lookupQuery).
		WithArgs(checksum).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))

	got, err := store.Upload(context.Background(), "copy.txt", "text/plain", content)
	assert.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = os.Stat(filepath.Join(dir, checksum))
	assert.True(t, os.IsNotExist(err), "no new blob is written for a known checksum")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRaceLandsOnWinnersRow(t *testing.T) {
	store, mock, _ := setupMockStore(t)

	content := []byte("raced bytes")
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	winnerID := uuid.New()

	// A concurrent upload committed between the lookup and the insert; the
	// upsert returns the winner's id instead of a unique constraint error.
	mock.ExpectQuery(lookupQuery).
		WithArgs(checksum).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectQuery(insertQuery).
		WithArgs(checksum, "copy.txt", "text/plain", len(content)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(winnerID))

	got, err := store.Upload(context.Background(), "copy.txt", "text/plain", content)
	assert.NoError(t, err)
	assert.Equal(t, winnerID, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReturnsFileHandles(t *testing.T) {
	store, mock, dir := setupMockStore(t)

	content := []byte("attachment payload")
	checksum := "deadbeef"
	id := uuid.New()

	assert.NoError(t, os.WriteFile(filepath.Join(dir, checksum), content, 0o644))

	mock.ExpectQuery(resolveQuery).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"checksum", "file_name", "content_type"}).
			AddRow(checksum, "report.csv", "text/csv"))

	files, err := store.Resolve(context.Background(), []uuid.UUID{id})
	assert.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "report.csv", files[0].Name)
	assert.Equal(t, "text/csv", files[0].ContentType)
	assert.Equal(t, content, files[0].Data)
}

func TestResolveUnknownID(t *testing.T) {
	store, mock, _ := setupMockStore(t)

	id := uuid.New()

	mock.ExpectQuery(resolveQuery).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"checksum", "file_name", "content_type"}))

	_, err := store.Resolve(context.Background(), []uuid.UUID{id})
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestResolveEmptyList(t *testing.T) {
	store, _, _ := setupMockStore(t)

	files, err := store.Resolve(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, files)
}
