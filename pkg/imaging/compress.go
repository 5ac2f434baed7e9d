// Package imaging は生成画像の縮小と再エンコードを行います。
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegMimeType = "image/jpeg"

// Compressor は長辺を MaxSide 以下に縮小し、JPEG に再エンコードします。
type Compressor struct {
	MaxSide int
	Quality int
}

// Compress は画像を圧縮して新しいバイト列と MIME タイプを返します。
// デコードできない場合はエラーを返し、呼び出し側が元データを使うのだ。
func (c Compressor) Compress(data []byte) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if c.MaxSide > 0 && max(w, h) > c.MaxSide {
		if w >= h {
			h = h * c.MaxSide / w
			w = c.MaxSide
		} else {
			w = w * c.MaxSide / h
			h = c.MaxSide
		}
	}

	// JPEG は透過を持てないので白で下地を塗るのだ
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	quality := c.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("%s から JPEG へのエンコードに失敗しました: %w", format, err)
	}
	return buf.Bytes(), jpegMimeType, nil
}
