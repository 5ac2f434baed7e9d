// Package layout はサブパネルの描画領域サイズを測る MeasureSurface 機能を提供します。
package layout

import (
	"context"
	"fmt"
	"time"

	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/domain"
)

// Size は描画領域の幅と高さ（ピクセル）なのだ。
type Size struct {
	Width  float64
	Height float64
}

// Valid は両辺が正かどうかを返します。
func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

// Scale は各辺を factor 倍したサイズを返すのだ。
func (s Size) Scale(factor float64) Size {
	return Size{Width: s.Width * factor, Height: s.Height * factor}
}

// Measurer はサブパネルの現在の描画サイズを返します。まだ確定していなければゼロを返すのだ。
type Measurer interface {
	Measure(ctx context.Context, subPanelID string) (Size, error)
}

// MeasurerFunc は関数を Measurer として扱うアダプタです。
type MeasurerFunc func(ctx context.Context, subPanelID string) (Size, error)

func (f MeasurerFunc) Measure(ctx context.Context, subPanelID string) (Size, error) {
	return f(ctx, subPanelID)
}

// WaitForStableSize は同じ非ゼロサイズが2回続けて得られるまで poll 間隔で測定します。
// timeout 以内に安定しなければ DimensionsTimeout を返すのだ。timeout が0以下なら既定値を使います。
// 呼び出し元の ctx が先に終了した場合はその ctx のエラーを返します。
func WaitForStableSize(ctx context.Context, m Measurer, subPanelID string, timeout, poll time.Duration) (Size, error) {
	const op = "measure_surface"
	if timeout <= 0 {
		timeout = config.DefaultDimensionTimeout
	}
	if poll <= 0 {
		poll = config.DefaultDimensionPoll
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last Size
	for {
		cur, err := m.Measure(waitCtx, subPanelID)
		if err != nil {
			return Size{}, fmt.Errorf("サブパネル %s の測定に失敗しました: %w", subPanelID, err)
		}
		if cur.Valid() && cur == last {
			return cur, nil
		}
		last = cur

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return Size{}, err
			}
			return Size{}, domain.NewGenerationError(domain.KindDimensionsTimeout, op,
				fmt.Errorf("サブパネル %s のサイズが %v 以内に確定しませんでした", subPanelID, timeout))
		case <-ticker.C:
		}
	}
}
