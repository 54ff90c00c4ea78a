package files

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		mimeType  string
		opts      Options
		wantValid bool
	}{
		{"small jpeg", 2 * 1024 * 1024, MimeJPEG, Options{}, true},
		{"small png", 500, MimePNG, Options{}, true},
		{"exactly at limit", MaxFileSize, MimeJPEG, Options{}, true},
		{"one byte over limit", MaxFileSize + 1, MimeJPEG, Options{}, false},
		{"huge file", 50 * 1024 * 1024, MimePNG, Options{}, false},
		{"gif rejected", 100, "image/gif", Options{}, false},
		{"pdf rejected", 100, "application/pdf", Options{}, false},
		{"empty mime rejected", 100, "", Options{}, false},
		{"webp rejected by default", 100, MimeWebP, Options{}, false},
		{"webp accepted when enabled", 100, MimeWebP, Options{AllowWebP: true}, true},
		{"gif still rejected with webp enabled", 100, "image/gif", Options{AllowWebP: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.size, tt.mimeType, tt.opts)
			if got.Valid != tt.wantValid {
				t.Fatalf("Validate(%d, %q) = %+v, want valid=%v", tt.size, tt.mimeType, got, tt.wantValid)
			}
			if !got.Valid && got.Reason == "" {
				t.Fatalf("invalid result must carry a reason")
			}
			if got.Valid && got.Reason != "" {
				t.Fatalf("valid result must not carry a reason, got %q", got.Reason)
			}
		})
	}
}
