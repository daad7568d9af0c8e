package caching

import (
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"
)

type LocalDiskCache struct{}

var _ DiskCache = (*LocalDiskCache)(nil)

func InitDiskCache() *LocalDiskCache {
	l := new(LocalDiskCache)
	err := gi.Inject(l)
	if err != nil {
		log.Fatal("Failed to inject disk cache", err)
	}

	return l
}

func (l LocalDiskCache) Read(path string) ([]byte, error) {
	// check if file exists
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Errorf("file %s does not exist on disk", path)
		return nil, err
	}

	file, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("error reading file %s from disk: %v", path, err)
		return nil, err
	}

	return file, nil
}

func (l LocalDiskCache) Write(path string, data []byte) error {
	err := os.WriteFile(path, data, 0644)
	if errors.Is(err, os.ErrNotExist) {
		// create the directory if it doesn't exist
		if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			log.Errorf("error creating directory for file %s: %v", path, err)

			return err
		}

		if err = os.WriteFile(path, data, 0644); err != nil {
			log.Errorf("error writing file %s to disk: %v", path, err)

			return err
		}
	} else if err != nil {
		log.Errorf("error writing file %s to disk: %v", path, err)

		return err
	}

	log.Debugf("Successfully wrote payload of size %d to file %s", len(data), path)

	return nil
}
