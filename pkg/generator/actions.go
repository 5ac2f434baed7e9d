package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

// ErrCancelled は確認ダイアログで操作が取り消されたことを表すのだ。
var ErrCancelled = errors.New("操作がキャンセルされました")

// ErrSelfContinuity はサブパネル自身を連続性アンカーに指定したことを表します。
var ErrSelfContinuity = errors.New("自身を連続性アンカーにはできません")

// References はサブパネルが参照する資産 ID の組です。nil のフィールドは変更しません。
type References struct {
	CharacterIDs     []string `json:"character_ids"`
	StyleIDs         []string `json:"style_ids"`
	BackgroundIDs    []string `json:"background_ids"`
	DialogueStyleIDs []string `json:"dialogue_style_ids"`
}

// Regenerate は画像を消去して再生成の対象に戻します。
// すでに画像がある場合は確認を取り、拒否されたら ErrCancelled を返すのだ。
func (s *Scheduler) Regenerate(ctx context.Context, id string) error {
	p, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		return err
	}
	ref, ok := p.FindSubPanel(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSubPanelNotFound, id)
	}
	if p.SubPanel(ref).ImageURL != "" {
		ok, err := s.confirmer.Confirm(ctx, "現在の画像を破棄して再生成しますか？")
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
	}

	s.clearFailed(id)
	return s.updateSubPanel(ctx, id, func(sp *domain.SubPanel) {
		sp.ImageURL = ""
	})
}

// DeleteContent は画像を消去します。clearPrompt が true ならプロンプトも消すので、再生成の対象から外れます。
func (s *Scheduler) DeleteContent(ctx context.Context, id string, clearPrompt bool) error {
	s.clearFailed(id)
	return s.updateSubPanel(ctx, id, func(sp *domain.SubPanel) {
		sp.ImageURL = ""
		if clearPrompt {
			sp.Prompt = ""
		}
	})
}

// EditPrompt はプロンプトを書き換えます。
// 生成中の結果はプロンプト不一致として破棄され、失敗印も外れるのだ。
func (s *Scheduler) EditPrompt(ctx context.Context, id, prompt string) error {
	return s.updateSubPanel(ctx, id, func(sp *domain.SubPanel) {
		sp.Prompt = prompt
	})
}

// SetContinuity は連続性アンカーを設定します。空文字で解除します。
func (s *Scheduler) SetContinuity(ctx context.Context, id, anchorID string) error {
	if anchorID == id {
		return fmt.Errorf("%w: %s", ErrSelfContinuity, id)
	}
	return s.updateSubPanel(ctx, id, func(sp *domain.SubPanel) {
		sp.ContinuitySubPanelID = anchorID
	})
}

// SetReferences は参照する資産 ID を差し替えるのだ。
func (s *Scheduler) SetReferences(ctx context.Context, id string, refs References) error {
	return s.updateSubPanel(ctx, id, func(sp *domain.SubPanel) {
		if refs.CharacterIDs != nil {
			sp.CharacterIDs = append([]string(nil), refs.CharacterIDs...)
		}
		if refs.StyleIDs != nil {
			sp.StyleIDs = append([]string(nil), refs.StyleIDs...)
		}
		if refs.BackgroundIDs != nil {
			sp.BackgroundIDs = append([]string(nil), refs.BackgroundIDs...)
		}
		if refs.DialogueStyleIDs != nil {
			sp.DialogueStyleIDs = append([]string(nil), refs.DialogueStyleIDs...)
		}
	})
}

// Failed は失敗印の付いたサブパネル ID を返します。
func (s *Scheduler) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.failed))
	for id := range s.failed {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) clearFailed(id string) {
	s.mu.Lock()
	delete(s.failed, id)
	s.mu.Unlock()
}

func (s *Scheduler) updateSubPanel(ctx context.Context, id string, fn func(sp *domain.SubPanel)) error {
	_, err := s.store.Update(ctx, s.userID, func(p *domain.Project) error {
		ref, ok := p.FindSubPanel(id)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrSubPanelNotFound, id)
		}
		fn(p.SubPanel(ref))
		return nil
	})
	if err != nil {
		return err
	}
	slog.Debug("Updated sub-panel", "user", s.userID, "sub_panel_id", id)
	return nil
}
