package ioutils

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestResizeImage(t *testing.T) {
	svc := NewImageService()
	out, err := svc.ResizeImage(context.Background(), pngFixture(t, 300, 200), 150, 150)
	if err != nil {
		t.Fatalf("ResizeImage: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 150 || b.Dy() != 100 {
		t.Errorf("resized to %dx%d, want 150x100", b.Dx(), b.Dy())
	}
}

func TestResizeImage_NoUpscale(t *testing.T) {
	svc := NewImageService()
	out, err := svc.ResizeImage(context.Background(), pngFixture(t, 40, 30), 512, 512)
	if err != nil {
		t.Fatalf("ResizeImage: %v", err)
	}
	img, _ := jpeg.Decode(bytes.NewReader(out))
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("got %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	svc := NewImageService()
	if _, err := svc.ResizeImage(context.Background(), []byte("not an image"), 10, 10); err == nil {
		t.Error("expected decode error")
	}
}

func TestConvertToJPEG(t *testing.T) {
	svc := NewImageService()
	out, err := svc.ConvertToJPEG(context.Background(), pngFixture(t, 20, 10))
	if err != nil {
		t.Fatalf("ConvertToJPEG: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("output is not JPEG: %v", err)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, mw, mh int
		wantW, wantH int
	}{
		{1500, 1000, 1000, 1000, 1000, 666},
		{1000, 1500, 1000, 1000, 666, 1000},
		{800, 600, 1000, 1000, 800, 600},
		{800, 600, 0, 300, 400, 300},
	}
	for _, tt := range tests {
		gotW, gotH := fitWithin(tt.w, tt.h, tt.mw, tt.mh)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("fitWithin(%d,%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.mw, tt.mh, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}
