// Package gui is a small desktop front end for classifying one image at a time.
package gui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/keagan/nsfwscan/internal/ai"
	"github.com/keagan/nsfwscan/internal/media"
	"github.com/keagan/nsfwscan/internal/pipeline"
	"github.com/keagan/nsfwscan/internal/video"
)

const previewSize = 300

var imageFilter = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// Analyzer classifies a file on disk
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*pipeline.Result, error)
}

// Loader forces the model into memory ahead of the first classification
type Loader interface {
	Load() error
}

// Run opens the detector window and blocks until it is closed
func Run(logger zerolog.Logger, analyzer Analyzer, loader Loader, policy video.Policy) {
	logger = logger.With().Str("component", "gui").Logger()

	a := app.NewWithID("nsfwscan")
	w := a.NewWindow("NSFW Image Detection")
	w.Resize(fyne.NewSize(390, 480))
	w.SetFixedSize(true)

	var selected string
	busy := false

	preview := canvas.NewImageFromResource(nil)
	preview.FillMode = canvas.ImageFillContain
	preview.SetMinSize(fyne.NewSize(previewSize, previewSize))
	preview.Hide()

	result := widget.NewLabel("")
	result.Alignment = fyne.TextAlignCenter
	result.TextStyle = fyne.TextStyle{Bold: true}
	confidence := widget.NewLabel("")
	confidence.Alignment = fyne.TextAlignCenter

	progress := widget.NewProgressBarInfinite()
	progress.Stop()
	progress.Hide()
	status := widget.NewLabel("")
	status.Alignment = fyne.TextAlignCenter
	status.Importance = widget.LowImportance
	status.Hide()

	showLoading := func(text string) {
		status.SetText(text)
		status.Show()
		progress.Show()
		progress.Start()
	}
	hideLoading := func() {
		progress.Stop()
		progress.Hide()
		status.Hide()
	}

	selectButton := widget.NewButton("Select Image", func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			defer rc.Close()

			selected = rc.URI().Path()
			logger.Debug().Str("path", selected).Msg("image selected")

			preview.File = selected
			preview.Show()
			preview.Refresh()
			result.SetText("")
			confidence.SetText("")
		}, w)
		fd.SetFilter(storage.NewExtensionFileFilter(imageFilter))
		fd.Show()
	})
	selectButton.Importance = widget.HighImportance

	var detectButton *widget.Button
	detectButton = widget.NewButton("Detect Image", func() {
		if selected == "" {
			result.Importance = widget.WarningImportance
			result.SetText("Please select an image first!")
			return
		}
		if busy {
			return
		}
		busy = true
		detectButton.Disable()
		path := selected

		showLoading("Loading model...")
		go func() {
			err := loader.Load()
			var res *pipeline.Result
			if err == nil {
				fyne.Do(func() { status.SetText("Analyzing image...") })
				res, err = analyzer.AnalyzeFile(context.Background(), path)
			}
			if err == nil && res.Prediction == nil {
				err = fmt.Errorf("%s: %w", path, media.ErrUnsupportedFormat)
			}

			fyne.Do(func() {
				hideLoading()
				busy = false
				detectButton.Enable()

				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("detection failed")
					result.Importance = widget.WarningImportance
					result.SetText(errorText(err))
					confidence.SetText("")
					return
				}

				text, conf, imp := predictionText(*res.Prediction, policy)
				result.Importance = imp
				result.SetText(text)
				confidence.SetText(conf)
			})
		}()
	})
	detectButton.Importance = widget.SuccessImportance

	w.SetContent(container.NewVBox(
		container.NewGridWithColumns(2, selectButton, detectButton),
		container.NewCenter(preview),
		result,
		progress,
		status,
		confidence,
	))

	w.SetOnClosed(func() {
		logger.Debug().Msg("window closed")
	})
	w.ShowAndRun()
}

// predictionText renders a prediction the way the result labels show it
func predictionText(pred ai.Prediction, policy video.Policy) (string, string, widget.Importance) {
	imp := widget.SuccessImportance
	if policy.IsPositive(pred.Label) {
		imp = widget.DangerImportance
	}
	return "Prediction: " + pred.Label, fmt.Sprintf("Confidence: %.2f %%", pred.Confidence), imp
}

func errorText(err error) string {
	pe := pipeline.AsError(err)
	if pe.Kind == pipeline.KindInternal {
		return "Error: " + err.Error()
	}
	return pe.Detail
}
