package nn

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
	RawWidth   float32 `json:"rawWidth,omitempty"`  // Sub-pixel size reported by the model, before Box was rounded. Zero if unknown.
	RawHeight  float32 `json:"rawHeight,omitempty"` // See RawWidth
}

// Size returns the model's own width and height of the object, falling back to the pixel box
func (o *ObjectDetection) Size() (width, height float32) {
	if o.RawWidth > 0 && o.RawHeight > 0 {
		return o.RawWidth, o.RawHeight
	}
	return float32(o.Box.Width), float32(o.Box.Height)
}

// Width divided by height, or zero if the object has no height
func (o *ObjectDetection) AspectRatio() float32 {
	w, h := o.Size()
	if h <= 0 {
		return 0
	}
	return w / h
}
