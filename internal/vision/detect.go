package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32       // 0.0 to 1.0
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

func (d Detection) Width() float32  { return d.BBox[2] - d.BBox[0] }
func (d Detection) Height() float32 { return d.BBox[3] - d.BBox[1] }

// Detector runs RetinaFace face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputSize     int
}

// strides of the det_10g feature maps
var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// det_10g output names, ordered scores, bboxes, landmarks for strides 8, 16, 32.
var detectorOutputs = [9]string{"448", "471", "494", "451", "474", "497", "454", "477", "500"}

// NewDetector loads the RetinaFace ONNX model for a square input of inputSize pixels.
// opts may be nil (ORT defaults).
func NewDetector(modelPath string, threshold float32, inputSize int, opts *ort.SessionOptions) (*Detector, error) {
	if inputSize%32 != 0 {
		return nil, fmt.Errorf("detector input size %d is not a multiple of 32", inputSize)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensors := make([]*ort.Tensor[float32], len(detectorOutputs))
	outputValues := make([]ort.Value, len(detectorOutputs))
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}

	widths := [3]int64{1, 4, 10}
	for i := range detectorOutputs {
		stride := strides[i%3]
		anchors := int64(anchorCount(inputSize, stride))
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, widths[i/3]))
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", detectorOutputs[i], err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		detectorOutputs[:],
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputSize:     inputSize,
	}, nil
}

func anchorCount(inputSize, stride int) int {
	fm := inputSize / stride
	return fm * fm * anchorsPerStride
}

// Detect runs face detection on a preprocessed image.
// imgData must be CHW [3, inputSize, inputSize]; origW/origH scale the boxes
// back to source pixels.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(origW, origH), 0.4), nil
}

// decode turns anchor-based outputs into pixel-space detections.
func (d *Detector) decode(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputSize)
	scaleH := float32(origH) / float32(d.inputSize)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fm := d.inputSize / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fm; cy++ {
			for cx := 0; cx < fm; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						ax := float32(cx) * st
						ay := float32(cy) * st

						x1 := clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
						y1 := clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
						x2 := clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
						y2 := clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

						var lm [5][2]float32
						for li := 0; li < 5; li++ {
							lm[li][0] = (ax + landmarks[idx*10+li*2]*st) * scaleW
							lm[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * scaleH
						}

						detections = append(detections, Detection{
							BBox:       [4]float32{x1, y1, x2, y2},
							Confidence: scores[idx],
							Landmarks:  lm,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

func (d *Detector) InputSize() int {
	return d.inputSize
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, returning detections by descending confidence.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	suppressed := make([]bool, len(detections))
	result := make([]Detection, 0, len(detections))
	for i := range detections {
		if suppressed[i] {
			continue
		}
		result = append(result, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := math.Max(float64(a[0]), float64(b[0]))
	y1 := math.Max(float64(a[1]), float64(b[1]))
	x2 := math.Min(float64(a[2]), float64(b[2]))
	y2 := math.Min(float64(a[3]), float64(b[3]))

	intersection := float32(math.Max(0, x2-x1) * math.Max(0, y2-y1))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
