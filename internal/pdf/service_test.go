package pdf

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeRange(t *testing.T) {
	cases := []struct {
		name      string
		rng       *PageRange
		pageCount int
		want      PageRange
		wantErr   bool
	}{
		{"nil means all pages", nil, 10, PageRange{Start: 1, End: 10}, false},
		{"zero start defaults to 1", &PageRange{End: 5}, 10, PageRange{Start: 1, End: 5}, false},
		{"zero end defaults to last", &PageRange{Start: 3}, 10, PageRange{Start: 3, End: 10}, false},
		{"explicit range", &PageRange{Start: 2, End: 4}, 10, PageRange{Start: 2, End: 4}, false},
		{"end before start", &PageRange{Start: 5, End: 2}, 10, PageRange{}, true},
		{"negative start", &PageRange{Start: -1, End: 2}, 10, PageRange{}, true},
		{"end past last page", &PageRange{Start: 1, End: 11}, 10, PageRange{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeRange(tc.rng, tc.pageCount)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("range = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := []struct {
		in      ImageFormat
		want    ImageFormat
		wantErr bool
	}{
		{"", ImageFormatPNG, false},
		{"png", ImageFormatPNG, false},
		{"PNG", ImageFormatPNG, false},
		{"jpg", ImageFormatJPEG, false},
		{"jpeg", ImageFormatJPEG, false},
		{"tiff", ImageFormatTIFF, false},
		{"bmp", "", true},
	}

	for _, tc := range cases {
		got, err := normalizeFormat(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("normalizeFormat(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("normalizeFormat(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalizeFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeDPI(t *testing.T) {
	if got, err := normalizeDPI(0); err != nil || got != defaultDPI {
		t.Fatalf("normalizeDPI(0) = %d, %v; want %d", got, err, defaultDPI)
	}
	if got, err := normalizeDPI(150); err != nil || got != 150 {
		t.Fatalf("normalizeDPI(150) = %d, %v", got, err)
	}
	if _, err := normalizeDPI(50); err == nil {
		t.Fatal("expected error for dpi below minimum")
	}
	if _, err := normalizeDPI(1200); err == nil {
		t.Fatal("expected error for dpi above maximum")
	}
}

func TestNormalizeQuality(t *testing.T) {
	if got, err := normalizeQuality(""); err != nil || got != QualityMedium {
		t.Fatalf("normalizeQuality(\"\") = %q, %v; want medium", got, err)
	}
	if got, err := normalizeQuality("HIGH"); err != nil || got != QualityHigh {
		t.Fatalf("normalizeQuality(HIGH) = %q, %v; want high", got, err)
	}
	if _, err := normalizeQuality("ultra"); err == nil {
		t.Fatal("expected error for unknown quality")
	}
}

func TestValidateOrder(t *testing.T) {
	if err := validateOrder([]int{2, 0, 1}, 3); err != nil {
		t.Fatalf("valid permutation rejected: %v", err)
	}
	if err := validateOrder([]int{0, 1}, 3); err == nil {
		t.Fatal("expected error for length mismatch")
	}
	if err := validateOrder([]int{0, 0, 1}, 3); err == nil {
		t.Fatal("expected error for duplicate index")
	}
	if err := validateOrder([]int{0, 1, 3}, 3); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestValidateRequest(t *testing.T) {
	svc := &Service{}
	twoInputs := []InputInfo{
		{Name: "a.pdf", Size: 1024, Pages: 3},
		{Name: "b.pdf", Size: 2048, Pages: 5},
	}
	oneInput := twoInputs[:1]

	cases := []struct {
		name    string
		req     *Request
		inputs  []InputInfo
		wantErr bool
	}{
		{"merge ok", &Request{Operation: OperationMerge, Files: []string{"a.pdf", "b.pdf"}}, twoInputs, false},
		{"merge single file", &Request{Operation: OperationMerge, Files: []string{"a.pdf"}}, oneInput, true},
		{"merge bad order", &Request{Operation: OperationMerge, Files: []string{"a.pdf", "b.pdf"}, Order: []int{0, 0}}, twoInputs, true},
		{"split ok", &Request{Operation: OperationSplit, Files: []string{"a.pdf"}}, oneInput, false},
		{"split range past last page", &Request{Operation: OperationSplit, Files: []string{"a.pdf"}, Range: &PageRange{Start: 1, End: 9}}, oneInput, true},
		{"convert ok", &Request{Operation: OperationConvert, Files: []string{"a.pdf"}, Format: "jpg", DPI: 150}, oneInput, false},
		{"convert bad dpi", &Request{Operation: OperationConvert, Files: []string{"a.pdf"}, DPI: 9999}, oneInput, true},
		{"compress ok", &Request{Operation: OperationCompress, Files: []string{"a.pdf"}, Quality: "low"}, oneInput, false},
		{"compress bad quality", &Request{Operation: OperationCompress, Files: []string{"a.pdf"}, Quality: "ultra"}, oneInput, true},
		{"unknown operation", &Request{Operation: "rotate", Files: []string{"a.pdf"}}, oneInput, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ValidateRequest(tc.req, tc.inputs)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr {
				var apiErr *Error
				if !errors.As(err, &apiErr) {
					t.Fatalf("error is not a domain error: %v", err)
				}
			}
		})
	}
}

func TestOutputStampUniqueWithinSameSecond(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &Service{now: func() time.Time { return fixed }}

	first := svc.outputStamp()
	second := svc.outputStamp()

	if !strings.HasPrefix(first, "20250601_120000_") {
		t.Fatalf("stamp = %q, want timestamp prefix", first)
	}
	if first == second {
		t.Fatalf("stamps collide within the same second: %q", first)
	}
}

func TestComputeSavedPercent(t *testing.T) {
	if got := computeSavedPercent(1000, 750); got != 25 {
		t.Fatalf("computeSavedPercent(1000, 750) = %v, want 25", got)
	}
	if got := computeSavedPercent(0, 10); got != 0 {
		t.Fatalf("computeSavedPercent(0, 10) = %v, want 0", got)
	}
}
