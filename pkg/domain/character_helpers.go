package domain

import "strings"

// FindCharacter は ID からキャラクターを特定します。見つからなければ nil なのだ。
func (p *Project) FindCharacter(id string) *Character {
	for i := range p.Characters {
		if p.Characters[i].ID == id {
			return &p.Characters[i]
		}
	}
	return nil
}

// HasCharacterNamed は名前の大文字小文字を無視して登録済みかどうかを返すのだ。
func (p *Project) HasCharacterNamed(name string) bool {
	for _, c := range p.Characters {
		if strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// HasObjectNamed はオブジェクトライブラリに同名の資産があるかどうかを返すのだ。
func (p *Project) HasObjectNamed(name string) bool {
	for _, o := range p.Objects {
		if strings.EqualFold(strings.TrimSpace(o.Name), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// CharactersByIDs は ids の順に解決できたキャラクターを返します。未知の ID は無視します。
func (p *Project) CharactersByIDs(ids []string) []Character {
	out := make([]Character, 0, len(ids))
	for _, id := range ids {
		if c := p.FindCharacter(id); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// StylesByIDs は ids の順に解決できたスタイル参照を返すのだ。
func (p *Project) StylesByIDs(ids []string) []StyleReference {
	out := make([]StyleReference, 0, len(ids))
	for _, id := range ids {
		for _, s := range p.Styles {
			if s.ID == id {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// BackgroundsByIDs は ids の順に解決できた背景参照を返すのだ。
func (p *Project) BackgroundsByIDs(ids []string) []BackgroundAsset {
	out := make([]BackgroundAsset, 0, len(ids))
	for _, id := range ids {
		for _, b := range p.Backgrounds {
			if b.ID == id {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// OwnerFor は候補名が登録済みキャラクター名と一致すればその名前を、なければ OwnerVarious を返します。
func (p *Project) OwnerFor(candidate string) string {
	for _, c := range p.Characters {
		if candidate != "" && strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(candidate)) {
			return c.Name
		}
	}
	return OwnerVarious
}
