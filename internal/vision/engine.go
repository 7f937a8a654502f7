package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/galleryai/internal/config"
	"github.com/your-org/galleryai/internal/observability"
)

// Engine bundles the detection, embedding and age models. ONNX sessions
// bind fixed input/output tensors, so calls are serialized.
type Engine struct {
	mu         sync.Mutex
	detector   *Detector
	embedder   *Embedder
	attributes *AttributePredictor
}

// NewEngine loads all ONNX models from cfg.ModelsDir. The ONNX runtime
// environment must already be initialized.
func NewEngine(cfg config.VisionConfig) (*Engine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")
	attrPath := filepath.Join(cfg.ModelsDir, "genderage.onnx")

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(2); err != nil {
		return nil, fmt.Errorf("set intra op threads: %w", err)
	}

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), cfg.InputSize, opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("loading attribute model", "path", attrPath)
	attr, err := NewAttributePredictor(attrPath, opts)
	if err != nil {
		det.Close()
		emb.Close()
		return nil, fmt.Errorf("load attributes: %w", err)
	}

	slog.Info("vision engine ready")

	return &Engine{detector: det, embedder: emb, attributes: attr}, nil
}

// Detect finds faces in img, returning pixel-space detections sorted by
// descending confidence.
func (e *Engine) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()

	start := time.Now()
	input := preprocessForDetection(img, e.detector.InputSize())
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()

	start = time.Now()
	detections, err := e.detector.Detect(input, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	// boxes come back relative to (0,0); shift into img's coordinate space
	if bounds.Min != (image.Point{}) {
		for i := range detections {
			shift(&detections[i], float32(bounds.Min.X), float32(bounds.Min.Y))
		}
	}
	return detections, nil
}

// Embed returns the ArcFace embedding of a face crop.
func (e *Engine) Embed(face image.Image) ([]float32, error) {
	input := preprocessForEmbedding(face)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	}()
	return e.embedder.Extract(input)
}

// EstimateAge predicts the apparent age of a face crop.
func (e *Engine) EstimateAge(face image.Image) (*AgeEstimate, error) {
	input := preprocessForAttributes(face)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("age").Observe(time.Since(start).Seconds())
	}()
	return e.attributes.Predict(input)
}

// Close releases all ONNX sessions.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
	if e.attributes != nil {
		e.attributes.Close()
	}
}

func shift(d *Detection, dx, dy float32) {
	d.BBox[0] += dx
	d.BBox[1] += dy
	d.BBox[2] += dx
	d.BBox[3] += dy
	for i := range d.Landmarks {
		d.Landmarks[i][0] += dx
		d.Landmarks[i][1] += dy
	}
}

func preprocessForDetection(img image.Image, size int) []float32 {
	return imageToFloat32CHW(img, size, size, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image) []float32 {
	return imageToFloat32CHW(img, embedderInput, embedderInput, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

func preprocessForAttributes(img image.Image) []float32 {
	return imageToFloat32CHW(img, attributeInput, attributeInput, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
}

// imageToFloat32CHW resizes img and converts it to CHW float32 with
// pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	w, h := targetW, targetH

	data := make([]float32, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			idx := y*w + x
			data[idx] = (float32(resized.Pix[off]) - mean[0]) / std[0]
			data[plane+idx] = (float32(resized.Pix[off+1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(resized.Pix[off+2]) - mean[2]) / std[2]
		}
	}
	return data
}
