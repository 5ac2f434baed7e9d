package domain

import (
	"testing"
)

func TestCharacter_Descriptors(t *testing.T) {
	t.Run("値のある項目だけが固定順で並ぶこと", func(t *testing.T) {
		c := Character{
			Name:        "ずんだもん",
			Accessories: "zunda mochi ears",
			Hair:        "green bob",
			Age:         "10",
			Outfit:      " ",
		}

		got := c.Descriptors()
		want := []string{"Age", "Hair", "Accessories"}
		if len(got) != len(want) {
			t.Fatalf("期待値 %d 件, 実際の値 %d 件: %+v", len(want), len(got), got)
		}
		for i, label := range want {
			if got[i].Label != label {
				t.Errorf("%d 番目: 期待値 %s, 実際の値 %s", i, label, got[i].Label)
			}
		}
	})
}

func TestPlaceholder(t *testing.T) {
	t.Run("マーカー付きの値はプレースホルダーと判定されること", func(t *testing.T) {
		v := PlaceholderPrefix + " Watercolor"
		if !IsPlaceholder(v) {
			t.Fatal("プレースホルダーと判定されませんでした")
		}
		if got := PlaceholderName(v); got != "Watercolor" {
			t.Errorf("期待値 'Watercolor', 実際の値 '%s'", got)
		}
	})

	t.Run("data URL はプレースホルダーではないこと", func(t *testing.T) {
		if IsPlaceholder("data:image/png;base64,AAAA") {
			t.Error("data URL がプレースホルダーと判定されました")
		}
	})
}

func TestGetSeedFromName(t *testing.T) {
	t.Run("設定済みのSeedを取得できること", func(t *testing.T) {
		c := Character{Name: "Alice", Seed: 999}
		if got := c.EffectiveSeed(); got != 999 {
			t.Errorf("期待値 999, 実際の値 %d", got)
		}
	})

	t.Run("Seed未設定の場合は名前から決定論的に生成されること", func(t *testing.T) {
		c := Character{Name: "Bob"}
		s1, s2 := c.EffectiveSeed(), c.EffectiveSeed()
		if s1 == 0 || s1 != s2 {
			t.Errorf("決定論的なシードになっていません: %d, %d", s1, s2)
		}
		if s1 < 0 {
			t.Errorf("シードが負の値です: %d", s1)
		}
	})
}

func TestProject_OwnerFor(t *testing.T) {
	p := Project{Characters: []Character{{ID: "c1", Name: "Mika"}}}

	t.Run("登録済みキャラクター名は大文字小文字を無視して解決されること", func(t *testing.T) {
		if got := p.OwnerFor("mika"); got != "Mika" {
			t.Errorf("期待値 'Mika', 実際の値 '%s'", got)
		}
	})

	t.Run("未知の所有者は Various になること", func(t *testing.T) {
		if got := p.OwnerFor("someone"); got != OwnerVarious {
			t.Errorf("期待値 %s, 実際の値 '%s'", OwnerVarious, got)
		}
		if got := p.OwnerFor(""); got != OwnerVarious {
			t.Errorf("期待値 %s, 実際の値 '%s'", OwnerVarious, got)
		}
	})
}
