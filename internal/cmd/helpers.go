package cmd

import (
	"errors"
	"io/fs"
)

func defaultConfigPathFallback() (string, error) {
	return defaultNamedConfigPath()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
