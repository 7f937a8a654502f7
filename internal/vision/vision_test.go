package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.7},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.8},
	}

	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.8), kept[1].Confidence)

	assert.Empty(t, nms(nil, 0.4))
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.Zero(t, iou(a, [4]float32{20, 20, 30, 30}))
	assert.InDelta(t, 25.0/175.0, iou(a, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 12800, anchorCount(640, 8))
	assert.Equal(t, 3200, anchorCount(640, 16))
	assert.Equal(t, 800, anchorCount(640, 32))
}

func TestAgeBucket(t *testing.T) {
	tests := []struct {
		age  int
		want string
	}{
		{-3, "0-5"},
		{7, "5-10"},
		{19, "15-20"},
		{20, "20-30"},
		{34, "30-40"},
		{140, "100-110"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ageBucket(tt.age).Range(), "age %d", tt.age)
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestImageToFloat32CHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}

	data := imageToFloat32CHW(img, 2, 2, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	require.Len(t, data, 12)
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(255), data[i], "R plane")
		assert.Equal(t, float32(0), data[4+i], "G plane")
		assert.Equal(t, float32(128), data[8+i], "B plane")
	}
}

func TestShift(t *testing.T) {
	d := Detection{BBox: [4]float32{1, 2, 3, 4}}
	d.Landmarks[0] = [2]float32{1, 1}
	shift(&d, 10, 20)
	assert.Equal(t, [4]float32{11, 22, 13, 24}, d.BBox)
	assert.Equal(t, [2]float32{11, 21}, d.Landmarks[0])
}
