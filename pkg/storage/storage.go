// Package storage is where we keep the artifacts of a classification run:
// annotated audit frames and exported result sheets.
package storage

import (
	"bytes"
	"errors"
	"io"
	"time"
)

var ErrNoPublicUrl = errors.New("Storage has no public URL")
var ErrInvalidName = errors.New("Invalid file name")

// Storage is an abstraction of a blob store (eg GCS, or a local directory)
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Returns ErrNoPublicUrl if the file cannot be reached from the outside
	URL(name string) (string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func WriteBytes(s Storage, name string, content []byte) error {
	return WriteFile(s, name, bytes.NewReader(content))
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}
