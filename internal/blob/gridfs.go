// Package blob stores attachment payloads in a GridFS bucket, deduplicated
// by content digest: storing bytes that already exist returns the existing
// file id instead of writing a second copy.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("blob: not found")

const bucketName = "files"

// Payloads above this size skip the in-memory path and go through
// PutStream with larger GridFS chunks.
const largeUploadThreshold = 8 << 20

// streamChunkSize is the GridFS chunk size for streamed uploads. The
// default 255KB costs too many round trips on multi-megabyte files.
const streamChunkSize = 1 << 20

// FileInfo describes a stored blob.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	ContentHash string    `json:"-"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type Store struct {
	bucket *gridfs.Bucket
	files  *mongo.Collection
}

func New(db *mongo.Database) (*Store, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return &Store{
		bucket: bucket,
		files:  db.Collection(bucketName + ".files"),
	}, nil
}

// HashContent returns the hex SHA-256 digest used as the dedup key.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storedName prefixes the sanitized original name with a millisecond
// timestamp so bucket filenames stay unique and sortable.
func storedName(name string) string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), strings.Join(strings.Fields(name), "-"))
}

// Put writes data to the bucket unless a blob with the same digest already
// exists. Returns the file info and whether an existing blob was reused.
// Large payloads take the streamed path.
func (s *Store) Put(ctx context.Context, name, mimeType, uploaderID string, data []byte) (*FileInfo, bool, error) {
	if len(data) > largeUploadThreshold {
		return s.PutStream(ctx, name, mimeType, uploaderID, bytes.NewReader(data))
	}
	hash := HashContent(data)
	if existing, err := s.FindByContentHash(ctx, hash); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	metadata := bson.M{
		"contentHash": hash,
		"mimeType":    mimeType,
		"uploadedBy":  uploaderID,
		"uploadedAt":  time.Now().UTC(),
	}
	opts := options.GridFSUpload().SetMetadata(metadata)
	stream, err := s.bucket.OpenUploadStream(storedName(name), opts)
	if err != nil {
		return nil, false, fmt.Errorf("open upload stream: %w", err)
	}
	if _, err := bytes.NewReader(data).WriteTo(stream); err != nil {
		stream.Close()
		return nil, false, fmt.Errorf("write blob: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, false, fmt.Errorf("close upload stream: %w", err)
	}

	id, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return nil, false, fmt.Errorf("unexpected gridfs file id type %T", stream.FileID)
	}
	if existing, err := s.resolveDuplicate(ctx, id, hash); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}
	return &FileInfo{
		ID:          id.Hex(),
		Name:        name,
		Size:        int64(len(data)),
		MimeType:    mimeType,
		ContentHash: hash,
		UploadedAt:  time.Now().UTC(),
	}, false, nil
}

// olderDuplicateFilter matches blobs with the same digest uploaded before id.
// ObjectIDs order by creation time, so of two racing uploads exactly one sees
// the other as older.
func olderDuplicateFilter(id primitive.ObjectID, hash string) bson.M {
	return bson.M{
		"metadata.contentHash": hash,
		"_id":                  bson.M{"$lt": id},
	}
}

// resolveDuplicate runs after an upload finished. The pre-upload dedup check
// is check-then-act, so two concurrent uploads of the same bytes can both
// pass it; here the older blob wins and the fresh copy is removed. Returns
// the surviving blob, or nil when the fresh upload stands.
func (s *Store) resolveDuplicate(ctx context.Context, id primitive.ObjectID, hash string) (*FileInfo, error) {
	var doc fileDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	err := s.files.FindOne(ctx, olderDuplicateFilter(id, hash), opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate blob: %w", err)
	}
	if err := s.bucket.Delete(id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fmt.Errorf("drop duplicate blob: %w", err)
	}
	return doc.info(), nil
}

// PutStream uploads from a reader without buffering the payload, hashing on
// the fly. Dedup runs after the upload: the digest is only known once the
// stream is drained, so a matching older blob wins and the fresh copy is
// deleted again.
func (s *Store) PutStream(ctx context.Context, name, mimeType, uploaderID string, r io.Reader) (*FileInfo, bool, error) {
	digest := sha256.New()
	metadata := bson.M{
		"mimeType":   mimeType,
		"uploadedBy": uploaderID,
		"uploadedAt": time.Now().UTC(),
	}
	opts := options.GridFSUpload().
		SetMetadata(metadata).
		SetChunkSizeBytes(streamChunkSize)
	stream, err := s.bucket.OpenUploadStream(storedName(name), opts)
	if err != nil {
		return nil, false, fmt.Errorf("open upload stream: %w", err)
	}
	size, err := io.Copy(stream, io.TeeReader(r, digest))
	if err != nil {
		stream.Close()
		return nil, false, fmt.Errorf("write blob: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, false, fmt.Errorf("close upload stream: %w", err)
	}
	id, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return nil, false, fmt.Errorf("unexpected gridfs file id type %T", stream.FileID)
	}

	// The digest is only known now, so record it first (making this blob
	// visible to concurrent dedup checks) and reconcile afterwards.
	hash := hex.EncodeToString(digest.Sum(nil))
	_, err = s.files.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"metadata.contentHash": hash}},
	)
	if err != nil {
		return nil, false, fmt.Errorf("record content hash: %w", err)
	}
	if existing, err := s.resolveDuplicate(ctx, id, hash); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}
	return &FileInfo{
		ID:          id.Hex(),
		Name:        name,
		Size:        size,
		MimeType:    mimeType,
		ContentHash: hash,
		UploadedAt:  time.Now().UTC(),
	}, false, nil
}

// FindByContentHash returns the stored blob with the given digest, or
// (nil, nil) when none exists.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (*FileInfo, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx, bson.M{"metadata.contentHash": hash}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find blob by hash: %w", err)
	}
	return doc.info(), nil
}

// Open returns a download stream plus file info. The caller closes the
// stream.
func (s *Store) Open(ctx context.Context, fileID string) (*gridfs.DownloadStream, *FileInfo, error) {
	objectID, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	stream, err := s.bucket.OpenDownloadStream(objectID)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open download stream: %w", err)
	}
	f := stream.GetFile()
	var metadata bson.M
	if f.Metadata != nil {
		_ = bson.Unmarshal(f.Metadata, &metadata)
	}
	return stream, &FileInfo{
		ID:          fileID,
		Name:        f.Name,
		Size:        f.Length,
		MimeType:    metaString(metadata, "mimeType"),
		ContentHash: metaString(metadata, "contentHash"),
		UploadedAt:  f.UploadDate,
	}, nil
}

// Stat returns file info without opening a stream.
func (s *Store) Stat(ctx context.Context, fileID string) (*FileInfo, error) {
	objectID, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc fileDoc
	err = s.files.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	return doc.info(), nil
}

// Delete removes a blob. Deleting an absent or malformed id is a no-op so
// message deletion stays idempotent.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	objectID, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return nil
	}
	if err := s.bucket.Delete(objectID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// fileDoc mirrors the fs.files document shape.
type fileDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Filename   string             `bson:"filename"`
	Length     int64              `bson:"length"`
	UploadDate time.Time          `bson:"uploadDate"`
	Metadata   bson.M             `bson:"metadata"`
}

func (d *fileDoc) info() *FileInfo {
	return &FileInfo{
		ID:          d.ID.Hex(),
		Name:        d.Filename,
		Size:        d.Length,
		MimeType:    metaString(d.Metadata, "mimeType"),
		ContentHash: metaString(d.Metadata, "contentHash"),
		UploadedAt:  d.UploadDate,
	}
}

func metaString(m bson.M, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
