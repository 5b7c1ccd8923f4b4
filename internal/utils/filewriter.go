package utils

import "os"

// FileManager abstracts the filesystem writes done by the attachment
// extractor so tests can intercept them.
type FileManager interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Exists(path string) bool
}

type OSFileManager struct{}

func (OSFileManager) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileManager) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (OSFileManager) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
