package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

const fileVersion = 1

// fileContents is the on-disk layout. It is meant to be read by operators.
type fileContents struct {
	Version    int                                                 `json:"version"`
	Partitions map[parcelsync.PartitionID]parcelsync.ProgressEntry `json:"partitions"`
}

// FileStore keeps all entries in one indented JSON document, on the local
// filesystem or in S3. Every Save rewrites the whole document: locally by
// writing a temporary file and renaming it over the old one, in S3 with a
// single PutObject.
type FileStore struct {
	Path string
	// Now stamps entries saved without an UpdatedAt.
	Now func() time.Time

	s3client s3iface.S3API

	mu      sync.Mutex
	entries map[parcelsync.PartitionID]parcelsync.ProgressEntry
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, s3client s3iface.S3API) *FileStore {
	return &FileStore{
		Path:     path,
		Now:      time.Now,
		s3client: s3client,
	}
}

// Load reads the document, treating a missing one as empty.
func (s *FileStore) Load(ctx context.Context) (map[parcelsync.PartitionID]parcelsync.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(); err != nil {
		return nil, err
	}
	return s.copyEntries(), nil
}

func (s *FileStore) copyEntries() map[parcelsync.PartitionID]parcelsync.ProgressEntry {
	out := make(map[parcelsync.PartitionID]parcelsync.ProgressEntry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// read loads the document into s.entries. Caller holds mu.
func (s *FileStore) read() error {
	content, err := readFileOrURL(s.Path, s.s3client)
	if err == errNotFound {
		s.entries = make(map[parcelsync.PartitionID]parcelsync.ProgressEntry)
		return nil
	} else if err != nil {
		return errors.WrapCode(err, parcelsync.ErrTransient, "reading progress")
	}
	var doc fileContents
	if err := json.Unmarshal(content, &doc); err != nil {
		return errors.WrapCode(err, parcelsync.ErrProgressCorrupt, "decoding progress file "+s.Path)
	}
	if doc.Version > fileVersion {
		return errors.Newf(parcelsync.ErrProgressCorrupt, "progress file %s has version %d, newer than %d", s.Path, doc.Version, fileVersion)
	}
	s.entries = doc.Partitions
	if s.entries == nil {
		s.entries = make(map[parcelsync.PartitionID]parcelsync.ProgressEntry)
	}
	for id, e := range s.entries {
		if e.PartitionID == "" {
			e.PartitionID = id
			s.entries[id] = e
		}
	}
	return nil
}

// Save replaces the entry of entry.PartitionID.
func (s *FileStore) Save(ctx context.Context, entry parcelsync.ProgressEntry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.Now()
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		if err := s.read(); err != nil {
			return err
		}
	}
	prev, had := s.entries[entry.PartitionID]
	s.entries[entry.PartitionID] = entry
	if err := s.write(); err != nil {
		if had {
			s.entries[entry.PartitionID] = prev
		} else {
			delete(s.entries, entry.PartitionID)
		}
		return err
	}
	return nil
}

// Reset removes the entry of id.
func (s *FileStore) Reset(ctx context.Context, id parcelsync.PartitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(); err != nil {
		return err
	}
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	return s.write()
}

// write persists s.entries. Caller holds mu.
func (s *FileStore) write() error {
	content, err := json.MarshalIndent(fileContents{Version: fileVersion, Partitions: s.entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding progress")
	}
	content = append(content, '\n')
	if err := writeFileOrURL(s.Path, content, s.s3client); err != nil {
		return errors.WrapCode(err, parcelsync.ErrTransient, "writing progress")
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

var errNotFound = errors.New(errors.ErrUncoded, "file or url does not exist")

func isS3(name string) bool { return strings.HasPrefix(name, "s3://") }

func parseS3(name string) (bucket, key string, err error) {
	u, err := url.Parse(name)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing S3 URL %v", name)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// readFileOrURL reads a local path or an s3 URL, returning errNotFound when
// there is nothing there.
func readFileOrURL(name string, s3client s3iface.S3API) ([]byte, error) {
	if !isS3(name) {
		content, err := os.ReadFile(name)
		if os.IsNotExist(err) {
			return nil, errNotFound
		}
		return content, errors.Wrapf(err, "reading file %v", name)
	}
	if s3client == nil {
		return nil, errors.New(parcelsync.ErrInvalidConfig, "missing s3 client")
	}
	bucket, key, err := parseS3(name)
	if err != nil {
		return nil, err
	}
	result, err := s3client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, errNotFound
			}
		}
		return nil, errors.Wrapf(err, "fetching S3 object %v", name)
	}
	defer result.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, errors.Wrapf(err, "reading S3 object %v", name)
	}
	return buf.Bytes(), nil
}

// writeFileOrURL replaces a local file atomically, or puts an s3 object.
func writeFileOrURL(name string, contents []byte, s3client s3iface.S3API) error {
	if isS3(name) {
		if s3client == nil {
			return errors.New(parcelsync.ErrInvalidConfig, "missing s3 client")
		}
		bucket, key, err := parseS3(name)
		if err != nil {
			return err
		}
		_, err = s3client.PutObject(&s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(contents),
			ContentLength: aws.Int64(int64(len(contents))),
			ContentType:   aws.String("application/json"),
		})
		return errors.Wrapf(err, "putting S3 object %v", name)
	}

	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %v", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %v", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %v", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "chmod %v", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), name), "renaming over %v", name)
}
