package emath

import "image"

// A couple of helpers for image.Rectangle, which treat Max as exclusive
// the way the image package does.

// PixelRect is the 1x1 rectangle covering pixel (x,y).
func PixelRect(x, y int) image.Rectangle { return image.Rect(x, y, x+1, y+1) }

// GrowRect returns the smallest rectangle holding both r and pixel (x,y).
func GrowRect(r image.Rectangle, x, y int) image.Rectangle {
	if r.Empty() {
		return PixelRect(x, y)
	}
	r.Min.X, r.Min.Y = min(r.Min.X, x), min(r.Min.Y, y)
	r.Max.X, r.Max.Y = max(r.Max.X, x+1), max(r.Max.Y, y+1)
	return r
}

func RectCenter(r image.Rectangle) image.Point {
	return image.Point{(r.Min.X + r.Max.X) / 2, (r.Min.Y + r.Max.Y) / 2}
}
