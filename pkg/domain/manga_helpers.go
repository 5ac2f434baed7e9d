package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageWidth    = 800
	DefaultPanelSpacing = 8
)

// NewProject は空の章を1つ持つ新しいプロジェクトを生成します。
func NewProject(title string) Project {
	return Project{
		Title:    title,
		Chapters: []Chapter{{ID: uuid.NewString(), Title: "Chapter 1"}},
		Settings: Settings{
			PageWidth:                DefaultPageWidth,
			PanelSpacing:             DefaultPanelSpacing,
			MaxConcurrentGenerations: DefaultMaxConcurrentGenerations,
		},
	}
}

// MaxConcurrent は正の同時生成数を返すのだ。未設定なら既定値を使います。
func (s Settings) MaxConcurrent() int {
	if s.MaxConcurrentGenerations <= 0 {
		return DefaultMaxConcurrentGenerations
	}
	return s.MaxConcurrentGenerations
}

// SubPanelRef はプロジェクト内のサブパネル位置を表すインデックスの組です。
type SubPanelRef struct {
	Chapter int
	Panel   int
	Sub     int
}

// SubPanel は参照先のサブパネルへのポインタを返すのだ。
func (p *Project) SubPanel(ref SubPanelRef) *SubPanel {
	return &p.Chapters[ref.Chapter].Panels[ref.Panel].SubPanels[ref.Sub]
}

// FindSubPanel は ID からサブパネルの位置を探します。
func (p *Project) FindSubPanel(id string) (SubPanelRef, bool) {
	if id == "" {
		return SubPanelRef{}, false
	}
	for ci, ch := range p.Chapters {
		for pi, pn := range ch.Panels {
			for si, sp := range pn.SubPanels {
				if sp.ID == id {
					return SubPanelRef{Chapter: ci, Panel: pi, Sub: si}, true
				}
			}
		}
	}
	return SubPanelRef{}, false
}

// ReadingOrder はパネル内のサブパネルをレイアウト上の初出順（行優先）に並べたインデックスを返します。
// レイアウトに現れないサブパネルは末尾にリスト順で追加するのだ。
func (pn Panel) ReadingOrder() []int {
	order := make([]int, 0, len(pn.SubPanels))
	used := make([]bool, len(pn.SubPanels))
	seen := make(map[int]struct{})
	for _, row := range pn.Layout {
		for _, cell := range row {
			if _, ok := seen[cell]; ok {
				continue
			}
			seen[cell] = struct{}{}
			for i, sp := range pn.SubPanels {
				if !used[i] && sp.Cell == cell {
					used[i] = true
					order = append(order, i)
					break
				}
			}
		}
	}
	for i := range pn.SubPanels {
		if !used[i] {
			order = append(order, i)
		}
	}
	return order
}

// ReadingOrder はプロジェクト全体のサブパネルを読み順で返すのだ。
func (p *Project) ReadingOrder() []SubPanelRef {
	var refs []SubPanelRef
	for ci, ch := range p.Chapters {
		for pi, pn := range ch.Panels {
			for _, si := range pn.ReadingOrder() {
				refs = append(refs, SubPanelRef{Chapter: ci, Panel: pi, Sub: si})
			}
		}
	}
	return refs
}

// PrecedingPrompts は同じ章の中で対象より前にある、プロンプトが空でないサブパネルの
// プロンプトを読み順で最大 n 件返します。
func (p *Project) PrecedingPrompts(id string, n int) []string {
	target, ok := p.FindSubPanel(id)
	if !ok || n <= 0 {
		return nil
	}
	var prompts []string
	ch := p.Chapters[target.Chapter]
	for pi, pn := range ch.Panels {
		for _, si := range pn.ReadingOrder() {
			if pi == target.Panel && si == target.Sub {
				if len(prompts) > n {
					prompts = prompts[len(prompts)-n:]
				}
				return prompts
			}
			if sp := pn.SubPanels[si]; sp.Prompt != "" {
				prompts = append(prompts, sp.Prompt)
			}
		}
	}
	return nil
}

// Validate はレイアウト中の各セルグループ ID にちょうど1つのサブパネルが対応しているか検証します。
func (pn Panel) Validate() error {
	counts := make(map[int]int)
	for _, sp := range pn.SubPanels {
		counts[sp.Cell]++
	}
	seen := make(map[int]struct{})
	for _, row := range pn.Layout {
		for _, cell := range row {
			if _, ok := seen[cell]; ok {
				continue
			}
			seen[cell] = struct{}{}
			if counts[cell] != 1 {
				return fmt.Errorf("%w: panel %s cell %d has %d sub-panels", ErrInvalidLayout, pn.ID, cell, counts[cell])
			}
		}
	}
	return nil
}

// DeleteChapter は章を削除します。最後の1章は削除できないのだ。
func (p *Project) DeleteChapter(id string) error {
	idx := slices.IndexFunc(p.Chapters, func(c Chapter) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("chapter %s: %w", id, ErrChapterNotFound)
	}
	if len(p.Chapters) == 1 {
		return ErrLastChapter
	}
	p.Chapters = slices.Delete(p.Chapters, idx, idx+1)
	return nil
}

// AppendChat は指定モードの履歴にメッセージを追記します。履歴は追記専用なのだ。
func (p *Project) AppendChat(mode ChatMode, msg ChatMessage) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	switch mode {
	case ChatModeAgent:
		p.AgentHistory = append(p.AgentHistory, msg)
	default:
		p.ChatHistory = append(p.ChatHistory, msg)
	}
}

// Clone はプロジェクトのディープコピーを返します。
// 更新は常にコピーに対して行い、値ごと差し替えるのだ。
func (p Project) Clone() Project {
	c := p
	c.Chapters = make([]Chapter, len(p.Chapters))
	for i, ch := range p.Chapters {
		c.Chapters[i] = ch.clone()
	}
	c.Characters = slices.Clone(p.Characters)
	c.Styles = slices.Clone(p.Styles)
	c.Backgrounds = slices.Clone(p.Backgrounds)
	c.Objects = slices.Clone(p.Objects)
	c.DialogueStyles = slices.Clone(p.DialogueStyles)
	c.KnowledgeFiles = slices.Clone(p.KnowledgeFiles)
	c.AgentHistory = cloneMessages(p.AgentHistory)
	c.ChatHistory = cloneMessages(p.ChatHistory)
	return c
}

func (ch Chapter) clone() Chapter {
	c := ch
	c.Panels = make([]Panel, len(ch.Panels))
	for i, pn := range ch.Panels {
		np := pn
		np.Layout = make([][]int, len(pn.Layout))
		for r, row := range pn.Layout {
			np.Layout[r] = slices.Clone(row)
		}
		np.SubPanels = make([]SubPanel, len(pn.SubPanels))
		for j, sp := range pn.SubPanels {
			nsp := sp
			nsp.CharacterIDs = slices.Clone(sp.CharacterIDs)
			nsp.StyleIDs = slices.Clone(sp.StyleIDs)
			nsp.BackgroundIDs = slices.Clone(sp.BackgroundIDs)
			nsp.DialogueStyleIDs = slices.Clone(sp.DialogueStyleIDs)
			np.SubPanels[j] = nsp
		}
		np.Bubbles = slices.Clone(pn.Bubbles)
		c.Panels[i] = np
	}
	return c
}

func cloneMessages(src []ChatMessage) []ChatMessage {
	if src == nil {
		return nil
	}
	out := make([]ChatMessage, len(src))
	for i, m := range src {
		nm := m
		nm.Images = slices.Clone(m.Images)
		nm.ContextPills = slices.Clone(m.ContextPills)
		if m.FunctionCall != nil {
			fc := *m.FunctionCall
			fc.Args = maps.Clone(m.FunctionCall.Args)
			nm.FunctionCall = &fc
		}
		out[i] = nm
	}
	return out
}
