package render

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
)

var preferredFormat = khr_surface.SurfaceFormat{
	Format:     core1_0.FormatB8G8R8A8SRGB,
	ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
}

func TestChooseSurfaceFormat(t *testing.T) {
	other := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatR8G8B8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}

	t.Run("preferred pair wins wherever it sits", func(t *testing.T) {
		got := chooseSurfaceFormat([]khr_surface.SurfaceFormat{other, preferredFormat})
		require.Equal(t, preferredFormat, got)
	})

	t.Run("format alone is not enough", func(t *testing.T) {
		wrongSpace := khr_surface.SurfaceFormat{
			Format:     core1_0.FormatB8G8R8A8SRGB,
			ColorSpace: khr_surface.ColorSpace(1000104002),
		}
		got := chooseSurfaceFormat([]khr_surface.SurfaceFormat{wrongSpace, other})
		require.Equal(t, wrongSpace, got)
	})

	t.Run("falls back to the first entry", func(t *testing.T) {
		got := chooseSurfaceFormat([]khr_surface.SurfaceFormat{other})
		require.Equal(t, other, got)
	})
}

func TestChoosePresentMode(t *testing.T) {
	t.Run("mailbox when offered", func(t *testing.T) {
		got := choosePresentMode([]khr_surface.PresentMode{
			khr_surface.PresentModeFIFO,
			khr_surface.PresentModeMailbox,
		})
		require.Equal(t, khr_surface.PresentModeMailbox, got)
	})

	t.Run("fifo otherwise", func(t *testing.T) {
		got := choosePresentMode([]khr_surface.PresentMode{
			khr_surface.PresentModeImmediate,
			khr_surface.PresentModeFIFORelaxed,
		})
		require.Equal(t, khr_surface.PresentModeFIFO, got)
	})

	t.Run("fifo even for an empty list", func(t *testing.T) {
		require.Equal(t, khr_surface.PresentModeFIFO, choosePresentMode(nil))
	})
}

func TestChooseExtent(t *testing.T) {
	adaptive := func() *khr_surface.SurfaceCapabilities {
		return &khr_surface.SurfaceCapabilities{
			CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
			MinImageExtent: core1_0.Extent2D{Width: 64, Height: 64},
			MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 2160},
		}
	}

	tests := []struct {
		name         string
		capabilities *khr_surface.SurfaceCapabilities
		drawableW    int
		drawableH    int
		want         core1_0.Extent2D
	}{
		{
			name: "fixed extent ignores the window",
			capabilities: &khr_surface.SurfaceCapabilities{
				CurrentExtent:  core1_0.Extent2D{Width: 800, Height: 600},
				MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: core1_0.Extent2D{Width: 8192, Height: 8192},
			},
			drawableW: 1280,
			drawableH: 720,
			want:      core1_0.Extent2D{Width: 800, Height: 600},
		},
		{
			name:         "adaptive extent follows the drawable size",
			capabilities: adaptive(),
			drawableW:    1280,
			drawableH:    720,
			want:         core1_0.Extent2D{Width: 1280, Height: 720},
		},
		{
			name:         "adaptive extent clamps up to the minimum",
			capabilities: adaptive(),
			drawableW:    16,
			drawableH:    16,
			want:         core1_0.Extent2D{Width: 64, Height: 64},
		},
		{
			name:         "adaptive extent clamps down to the maximum",
			capabilities: adaptive(),
			drawableW:    7680,
			drawableH:    4320,
			want:         core1_0.Extent2D{Width: 4096, Height: 2160},
		},
		{
			name:         "components clamp independently",
			capabilities: adaptive(),
			drawableW:    16,
			drawableH:    4320,
			want:         core1_0.Extent2D{Width: 64, Height: 2160},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chooseExtent(tt.capabilities, tt.drawableW, tt.drawableH)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChooseImageCount(t *testing.T) {
	tests := []struct {
		name string
		min  int
		max  int
		want int
	}{
		{"one above the minimum", 2, 8, 3},
		{"clamped to the maximum", 2, 2, 2},
		{"maximum of zero means unbounded", 4, 0, 5},
		{"maximum equal to min plus one", 2, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capabilities := &khr_surface.SurfaceCapabilities{
				MinImageCount: tt.min,
				MaxImageCount: tt.max,
			}
			require.Equal(t, tt.want, chooseImageCount(capabilities))
		})
	}
}

// Rebuilding against unchanged surface details must negotiate identical
// results, or back-to-back swapchain rebuilds would thrash formats.
func TestNegotiationIsDeterministic(t *testing.T) {
	details := surfaceDetails{
		capabilities: &khr_surface.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  4,
			CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
			MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: core1_0.Extent2D{Width: 8192, Height: 8192},
		},
		formats: []khr_surface.SurfaceFormat{preferredFormat},
		presentModes: []khr_surface.PresentMode{
			khr_surface.PresentModeMailbox,
			khr_surface.PresentModeFIFO,
		},
	}

	for run := 0; run < 2; run++ {
		require.Equal(t, preferredFormat, chooseSurfaceFormat(details.formats))
		require.Equal(t, khr_surface.PresentModeMailbox, choosePresentMode(details.presentModes))
		require.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, chooseExtent(details.capabilities, 1024, 768))
		require.Equal(t, 3, chooseImageCount(details.capabilities))
	}
}
