// Package config provides configuration management for m2m-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - Overriding settings from M2M_-prefixed environment variables
//   - Default configuration values and validation
//   - Conversion to the option types of other packages
//   - The credential store holding the username and application token
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to data/raw/landsat/{displayId}.tar
//	// 10 concurrent downloads, 3 retries 5 seconds apart
//	// Polls preparing orders every 10 seconds
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//	if err := settings.LoadFromEnv(); err != nil {
//	    return err
//	}
//	if err := settings.Validate(); err != nil {
//	    return err
//	}
//
// # Credentials
//
//	store := config.NewCredentialStore("") // ~/.config/m2m-api/config.json
//	username, token, err := store.Load()
package config
