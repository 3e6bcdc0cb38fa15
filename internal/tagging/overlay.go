package tagging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
)

// Box colors by element kind; labels get a dark pill so the index stays
// readable on any page background.
var (
	kindColors = map[Kind]color.NRGBA{
		KindGeneric:        {R: 255, G: 64, B: 64, A: 255},
		KindTextInput:      {R: 0, G: 200, B: 83, A: 255},
		KindSelectInput:    {R: 41, G: 121, B: 255, A: 255},
		KindCheckableInput: {R: 255, G: 171, B: 0, A: 255},
	}
	fillAlpha = uint8(38)
	pillBG    = color.NRGBA{R: 30, G: 30, B: 30, A: 220}
	pillText  = color.White
)

const (
	boxBorderWidth = 2.0
	pillPadX       = 4.0
	pillPadY       = 2.0
	pillRadius     = 4.0
)

// RenderOverlay composites numbered boxes for each element over a
// screenshot and returns the annotated image as PNG bytes. Element
// bounds are expected in the screenshot's own coordinate space. The
// input image is not modified.
func RenderOverlay(img image.Image, elements []Element) ([]byte, error) {
	bounds := img.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(img, 0, 0)

	for _, el := range elements {
		drawElementBox(dc, el, float64(bounds.Dx()), float64(bounds.Dy()))
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

func drawElementBox(dc *gg.Context, el Element, imgW, imgH float64) {
	x, y, w, h := el.Bounds.X, el.Bounds.Y, el.Bounds.Width, el.Bounds.Height
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return
	}

	c, ok := kindColors[el.Kind]
	if !ok {
		c = kindColors[KindGeneric]
	}

	dc.SetColor(color.NRGBA{R: c.R, G: c.G, B: c.B, A: fillAlpha})
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	dc.SetColor(c)
	dc.SetLineWidth(boxBorderWidth)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	drawIndexPill(dc, strconv.Itoa(el.Index), x, y, w, imgW, imgH)
}

func drawIndexPill(dc *gg.Context, label string, elemX, elemY, elemW, imgW, imgH float64) {
	textW, textH := dc.MeasureString(label)
	pillW := textW + pillPadX*2
	pillH := textH + pillPadY*2

	// Preferred placements: above-right, above-left, then inside.
	type pos struct{ x, y float64 }
	candidates := []pos{
		{elemX + elemW - pillW, elemY - pillH - 2},
		{elemX, elemY - pillH - 2},
		{elemX + elemW - pillW - 2, elemY + 2},
	}

	px, py := elemX+2, elemY+2
	for _, c := range candidates {
		if c.x >= 0 && c.y >= 0 && c.x+pillW <= imgW && c.y+pillH <= imgH {
			px, py = c.x, c.y
			break
		}
	}

	dc.SetColor(pillBG)
	dc.DrawRoundedRectangle(px, py, pillW, pillH, pillRadius)
	dc.Fill()

	dc.SetColor(pillText)
	dc.DrawString(label, px+pillPadX, py+pillPadY+textH*0.85)
}
