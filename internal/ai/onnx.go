package ai

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes an image classification model exported to ONNX
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the platform default
	InputName   string
	OutputName  string
	InputSize   int
	Labels      []string // output index -> label
	Mean        []float32
	Std         []float32
}

// ONNXClassifier runs a single-image classification model through ONNX Runtime.
// The session is created once; Run is safe to call from multiple goroutines.
type ONNXClassifier struct {
	logger     zerolog.Logger
	cfg        ONNXConfig
	inputShape ort.Shape
	session    *ort.DynamicAdvancedSession
}

// NewONNXClassifier loads the model and prepares an inference session.
func NewONNXClassifier(logger zerolog.Logger, cfg ONNXConfig) (*ONNXClassifier, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model labels are required")
	}

	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info().
		Str("model", cfg.ModelPath).
		Str("input", cfg.InputName).
		Str("output", cfg.OutputName).
		Strs("labels", cfg.Labels).
		Msg("classifier model loaded")

	size := int64(cfg.InputSize)
	return &ONNXClassifier{
		logger:     logger.With().Str("component", "classifier").Logger(),
		cfg:        cfg,
		inputShape: ort.NewShape(1, 3, size, size),
		session:    sess,
	}, nil
}

// Classify runs the model on img and returns the most probable label.
func (c *ONNXClassifier) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	data := pixelValues(img, c.cfg.InputSize, c.cfg.Mean, c.cfg.Std)
	input, err := ort.NewTensor(c.inputShape, data)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(c.cfg.Labels))))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return Prediction{}, fmt.Errorf("inference failed: %w", err)
	}

	pred, err := predict(output.GetData(), c.cfg.Labels)
	if err != nil {
		return Prediction{}, err
	}

	c.logger.Debug().
		Str("label", pred.Label).
		Float64("confidence", pred.Confidence).
		Msg("image classified")

	return pred, nil
}

// Close releases the session and the ONNX environment.
func (c *ONNXClassifier) Close() error {
	c.logger.Info().Msg("closing classifier session")
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}

// predict picks the top label from raw logits
func predict(logits []float32, labels []string) (Prediction, error) {
	if len(logits) != len(labels) {
		return Prediction{}, fmt.Errorf("model returned %d logits for %d labels", len(logits), len(labels))
	}

	probs := softmax(logits)
	idx := argmax(probs)
	return Prediction{
		Label:      labels[idx],
		Confidence: Round2(probs[idx] * 100),
	}, nil
}

// pixelValues resizes img to size x size and lays it out as normalized
// float32[1,3,size,size] in RGB channel order.
func pixelValues(img image.Image, size int, mean, std []float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	plane := size * size
	data := make([]float32, 3*plane)
	bounds := resized.Bounds()

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = (float32(r>>8)/255.0 - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8)/255.0 - mean[1]) / std[1]
			data[2*plane+i] = (float32(b>>8)/255.0 - mean[2]) / std[2]
			i++
		}
	}

	return data
}
