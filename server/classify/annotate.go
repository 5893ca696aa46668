package classify

import (
	"fmt"
	"path"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/storage"
	"github.com/fogleman/gg"
)

// Box colors, per class
var annotateColors = map[Class][3]float64{
	ClassLegalOccupier: {1, 0.8, 0},
	ClassTrain:         {1, 0, 0},
	ClassTruck:         {0, 0.6, 1},
	ClassOther:         {0.6, 0.6, 0.6},
}

// AuditName is the name under which the annotated copy of an image is stored
func AuditName(imageID string) string {
	return "obj_" + path.Base(imageID)
}

// Annotate draws the detections onto a copy of the frame
func Annotate(frame *imagex.Frame, objects []nn.ObjectDetection, config *nn.ModelConfig, classOf func(int) Class) *imagex.Frame {
	dc := gg.NewContextForImage(frame.ToImage())
	dc.SetLineWidth(2)
	for _, obj := range objects {
		color := annotateColors[classOf(obj.Class)]
		b := obj.Box
		dc.SetRGB(color[0], color[1], color[2])
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()

		label := fmt.Sprintf("%v %.2f", config.ClassName(obj.Class), obj.Confidence)
		w, h := dc.MeasureString(label)
		ty := float64(b.Y) - 2
		if ty-h < 0 {
			ty = float64(b.Y) + h + 2
		}
		dc.DrawRectangle(float64(b.X), ty-h-2, w+4, h+4)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawString(label, float64(b.X)+2, ty)
	}
	return imagex.FromImage(dc.Image())
}

// Audit frames only help a human check our work, so failure here is logged and forgotten
func (c *Classifier) writeAudit(imageID string, frame *imagex.Frame, objects []nn.ObjectDetection) {
	annotated := Annotate(frame, objects, c.opt.PrimaryDetector.Config(), c.primaryClass)
	jpg, err := annotated.EncodeJPEG(c.opt.JPEGQuality)
	if err != nil {
		c.log.Warnf("Failed to encode audit frame for %v: %v", imageID, err)
		return
	}
	if err := storage.WriteBytes(c.opt.Audit, AuditName(imageID), jpg); err != nil {
		c.log.Warnf("Failed to write audit frame for %v: %v", imageID, err)
	}
}
