package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// AgeEstimate is the predicted apparent age of a face.
type AgeEstimate struct {
	Age  int
	Low  int
	High int
}

// Range renders the estimate as "low-high".
func (a AgeEstimate) Range() string {
	return fmt.Sprintf("%d-%d", a.Low, a.High)
}

// AttributePredictor estimates age using the InsightFace genderage model.
type AttributePredictor struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

const attributeInput = 96

func NewAttributePredictor(modelPath string, opts *ort.SessionOptions) (*AttributePredictor, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, attributeInput, attributeInput))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// [gender_score, age/100, ...]
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"},
		[]string{"fc1"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}

	return &AttributePredictor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict runs age estimation on a CHW [3,96,96] face crop.
func (p *AttributePredictor) Predict(faceData []float32) (*AgeEstimate, error) {
	copy(p.inputTensor.GetData(), faceData)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("run attributes: %w", err)
	}

	data := p.outputTensor.GetData()
	if len(data) < 3 {
		return nil, fmt.Errorf("unexpected output size: %d", len(data))
	}

	est := ageBucket(int(data[2] * 100))
	return &est, nil
}

// ageBucket widens a point estimate into a 5-year band under 20 and a
// 10-year band from 20 on.
func ageBucket(age int) AgeEstimate {
	age = max(0, min(age, 100))

	width := 5
	if age >= 20 {
		width = 10
	}
	low := (age / width) * width
	return AgeEstimate{Age: age, Low: low, High: low + width}
}

func (p *AttributePredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}
