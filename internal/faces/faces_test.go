package faces_test

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mindbridge-ai/emotion-inference/internal/faces"
)

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

var _ = Describe("Detector", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	Context("without a configured cascade", func() {
		It("should stay disabled when the path is empty", func() {
			detector := faces.NewDetector("", logger)

			Expect(detector.Enabled()).To(BeFalse())
		})

		It("should report zero faces for every image", func() {
			detector := faces.NewDetector("", logger)

			Expect(detector.Detect(testImage(100, 100))).To(BeEmpty())
			Expect(detector.Detect(testImage(640, 480))).To(BeEmpty())
		})
	})

	Context("when the cascade file cannot be read", func() {
		It("should stay disabled instead of failing", func() {
			missing := filepath.Join(GinkgoT().TempDir(), "facefinder")

			detector := faces.NewDetector(missing, logger)

			Expect(detector.Enabled()).To(BeFalse())
			Expect(detector.Detect(testImage(100, 100))).To(BeEmpty())
		})
	})
})

var _ = Describe("Detection", func() {
	Describe("Box", func() {
		It("should return x, y, width, height in order", func() {
			det := faces.Detection{X: 12, Y: 34, W: 56, H: 78}

			Expect(det.Box()).To(Equal([4]int{12, 34, 56, 78}))
		})
	})
})

var _ = Describe("Crop", func() {
	It("should extract the detected region", func() {
		img := testImage(200, 200)
		det := faces.Detection{X: 50, Y: 60, W: 40, H: 40}

		cropped := faces.Crop(img, det)

		Expect(cropped.Bounds()).To(Equal(image.Rect(50, 60, 90, 100)))
	})

	It("should clamp regions that extend past the image edge", func() {
		img := testImage(100, 100)
		det := faces.Detection{X: 80, Y: 90, W: 50, H: 50}

		cropped := faces.Crop(img, det)

		Expect(cropped.Bounds()).To(Equal(image.Rect(80, 90, 100, 100)))
	})

	It("should return the original image when the region lies outside it", func() {
		img := testImage(100, 100)
		det := faces.Detection{X: 500, Y: 500, W: 50, H: 50}

		cropped := faces.Crop(img, det)

		Expect(cropped.Bounds()).To(Equal(img.Bounds()))
	})
})
