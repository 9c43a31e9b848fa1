package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LoadDotEnv loads variables from files, or from .env when none is given.
// Variables already set in the environment win. A missing file is not an
// error; it is logged at debug level.
func LoadDotEnv(logger zerolog.Logger, files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug().Err(err).Msg("no .env file found, using system environment variables")
		return nil
	}
	return err
}
