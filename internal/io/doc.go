// Package ioutils provides file system and image processing utilities.
//
// This package contains functions for:
//   - Directory creation and file removal
//   - Atomic file writes
//   - Size sidecars that mark an archive as completely downloaded
//   - Browse image resizing and format conversion
//
// # Size Sidecars
//
// A completed archive at path P is accompanied by a text file P.size
// holding the number of bytes that were expected and written:
//
//	err := ioutils.WriteSidecar(path, n)
//
//	if ioutils.AvailableLocally(path) {
//	    // skip the download
//	}
//
// # Image Processing
//
// The ImageService handles browse previews:
//
//	svc := ioutils.NewImageService()
//
//	// Resize image to fit within 512x512
//	resized, _ := svc.ResizeImage(ctx, imageData, 512, 512)
//
//	// Convert to JPEG
//	jpeg, _ := svc.ConvertToJPEG(ctx, pngData)
package ioutils
