//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/tilematch/internal/score"
)

func TestEmbeddedKernel_Validates(t *testing.T) {
	src, _, err := loadKernel("", matchKernel)
	if err != nil {
		t.Fatalf("loadKernel() error: %v", err)
	}
	for _, f := range []score.Format{score.FormatPacked, score.FormatF32} {
		t.Run(f.String(), func(t *testing.T) {
			code, err := Preprocess(src, f, matchInputs)
			if err != nil {
				t.Fatalf("Preprocess() error: %v", err)
			}
			if err := ValidateKernel(code); err != nil {
				if strings.Contains(err.Error(), "not yet implemented") {
					t.Skipf("Skipping: naga feature not yet implemented: %v", err)
				}
				t.Fatalf("ValidateKernel() error: %v", err)
			}
		})
	}
}

func TestPreprocess(t *testing.T) {
	const src = "a\n//#output\nb\n"
	tests := []struct {
		format score.Format
		want   string
	}{
		{score.FormatPacked, "texture_storage_2d<r32uint, write>"},
		{score.FormatF32, "texture_storage_2d<rg32float, write>"},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			got, err := Preprocess(src, tt.format, 3)
			if err != nil {
				t.Fatalf("Preprocess() error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Preprocess() missing %q:\n%s", tt.want, got)
			}
			if !strings.Contains(got, "@binding(3)") {
				t.Errorf("Preprocess() output not at binding 3:\n%s", got)
			}
			if strings.Contains(got, outputDirective) {
				t.Error("Preprocess() left the directive in place")
			}
		})
	}
}

func TestPreprocess_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		format score.Format
	}{
		{"no directive", "fn main() {}", score.FormatPacked},
		{"two directives", "//#output\n//#output", score.FormatPacked},
		{"bad format", "//#output", score.Format(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Preprocess(tt.src, tt.format, 3); !errors.Is(err, ErrKernelCompile) {
				t.Errorf("Preprocess() err = %v, want ErrKernelCompile", err)
			}
		})
	}
}

func TestValidateKernel_Broken(t *testing.T) {
	if err := ValidateKernel("fn main( {"); !errors.Is(err, ErrKernelCompile) {
		t.Errorf("ValidateKernel() err = %v, want ErrKernelCompile", err)
	}
}

func TestLoadKernel_DirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "match.wgsl"), []byte("override"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, mod, err := loadKernel(dir, "match")
	if err != nil {
		t.Fatalf("loadKernel() error: %v", err)
	}
	if src != "override" {
		t.Errorf("loadKernel() = %q, want the directory copy", src)
	}
	if mod.IsZero() {
		t.Error("loadKernel() did not report the file's modification time")
	}

	src, _, err = loadKernel(t.TempDir(), "match")
	if err != nil || !strings.Contains(src, outputDirective) {
		t.Errorf("loadKernel() without override = %v, want the embedded kernel", err)
	}

	if _, _, err := loadKernel("", "nope"); !errors.Is(err, ErrKernelCompile) {
		t.Errorf("loadKernel(unknown) err = %v, want ErrKernelCompile", err)
	}
}

func TestPackParams(t *testing.T) {
	l := score.NewLayout(128, 64, 2, score.FormatPacked)
	p := score.DefaultKernelParams()
	b := PackParams(l, p, []uint32{512, 300, 7})

	if len(b) != uniformSize {
		t.Fatalf("len = %d, want %d", len(b), uniformSize)
	}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
	f32 := func(off int) float32 { return math.Float32frombits(u32(off)) }

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"width 0", u32(0), uint32(512)},
		{"width 2", u32(8), uint32(7)},
		{"width 3 padded", u32(12), uint32(0)},
		{"width 15 padded", u32(60), uint32(0)},
		{"cell_w", u32(64), uint32(l.CellW())},
		{"cell_h", u32(68), uint32(l.CellH())},
		{"grid", u32(72), uint32(4)},
		{"step", u32(76), uint32(2)},
		{"mask_w", u32(80), uint32(128)},
		{"mask_h", u32(84), uint32(64)},
		{"tile_size", u32(88), uint32(512)},
		{"n_tiles", u32(92), uint32(3)},
		{"zoom_step", f32(96), p.ZoomStep},
		{"zoom_penalty", f32(100), p.ZoomPenalty},
		{"blur_weight", f32(104), p.BlurWeight},
		{"context_weight", f32(108), p.ContextWeight},
		{"zoom_steps", u32(112), uint32(p.ZoomSteps)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if !math.IsInf(float64(f32(116)), -1) {
		t.Errorf("neg_inf = %v, want -Inf", f32(116))
	}
}
