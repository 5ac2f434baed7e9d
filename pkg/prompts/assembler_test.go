package prompts

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

var pngDataURL = EncodeDataURL([]byte{0x89, 'P', 'N', 'G', 1, 2, 3}, "image/png")

func TestSnapAspectRatio(t *testing.T) {
	tests := []struct {
		w, h float64
		want string
	}{
		{175, 100, AspectWide},
		{170, 100, AspectWide},
		{140, 100, AspectLandscape},
		{130, 100, AspectLandscape},
		{100, 100, AspectSquare},
		{110, 100, AspectSquare},
		{90, 100, AspectSquare},
		{120, 100, AspectPortrait},
		{75, 100, AspectPortrait},
		{50, 100, AspectTall},
		{60, 100, AspectTall},
		{0, 100, AspectSquare},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%vx%v", tt.w, tt.h), func(t *testing.T) {
			if got := SnapAspectRatio(tt.w, tt.h); got != tt.want {
				t.Errorf("期待値 %s, 実際の値 %s", tt.want, got)
			}
		})
	}
}

func TestResolutionTier(t *testing.T) {
	if got := ResolutionTier(1024, 700); got != "1K" {
		t.Errorf("期待値 1K, 実際の値 %s", got)
	}
	if got := ResolutionTier(1400, 2000); got != "2K" {
		t.Errorf("期待値 2K, 実際の値 %s", got)
	}
	if got := ResolutionTier(2800, 1400); got != "4K" {
		t.Errorf("期待値 4K, 実際の値 %s", got)
	}
}

func newTestAssembler() *Assembler {
	return NewAssembler(NewReferenceDecoder(time.Minute), "anime", 5)
}

func fullInput() GenerationInput {
	return GenerationInput{
		SubPanel:        domain.SubPanel{ID: "s1", Prompt: "Mika draws her sword", ShotType: "close-up"},
		Width:           350,
		Height:          700,
		Styles:          []domain.StyleReference{{ID: "st", Name: "Ink", Image: pngDataURL}},
		Characters:      []domain.Character{{ID: "c", Name: "Mika", Hair: "red", Image: pngDataURL}},
		Objects:         []domain.ObjectAsset{{ID: "o", Name: "sword", Image: pngDataURL}},
		Backgrounds:     []domain.BackgroundAsset{{ID: "b", Name: "Castle", Image: pngDataURL}},
		NarrativeWindow: []string{"P1", "P2"},
		ContinuityImage: pngDataURL,
	}
}

func describe(parts []domain.RequestPart) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		if p.IsImage() {
			out[i] = "IMAGE"
			continue
		}
		head, _, _ := strings.Cut(p.Text, "\n")
		out[i] = head
	}
	return out
}

func TestAssembler_Order(t *testing.T) {
	t.Run("要素が固定順で組み立てられること", func(t *testing.T) {
		req := newTestAssembler().BuildGenerationRequest(fullInput())
		got := describe(req.Parts)
		want := []string{
			"IMAGE",
			"### CONTINUITY REFERENCE ###",
			narrativeHeader,
			"### GLOBAL VISUAL STYLE ###",
			"BACKGROUND / SETTING REFERENCE: Castle. ",
			"IMAGE",
			"ART STYLE REFERENCE: Ink. " + styleNegativeConstraint,
			"IMAGE",
			"OBJECT REFERENCE: sword. ",
			"IMAGE",
			"CHARACTERS IN THIS PANEL: Mika",
			"### CHARACTER: Mika ###",
			"IMAGE",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("順序が不正です\n期待: %q\n実際: %q", want, got)
		}
		if req.AspectRatio != AspectTall {
			t.Errorf("期待値 %s, 実際の値 %s", AspectTall, req.AspectRatio)
		}
	})

	t.Run("同じ入力からは常に同じ要素列が得られること", func(t *testing.T) {
		a := newTestAssembler()
		first := a.BuildGenerationRequest(fullInput())
		for i := 0; i < 5; i++ {
			again := a.BuildGenerationRequest(fullInput())
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("%d 回目で結果が変わりました", i+2)
			}
		}
	})

	t.Run("ショット指定がシーン本文の前に付くこと", func(t *testing.T) {
		req := newTestAssembler().BuildGenerationRequest(fullInput())
		core := req.Parts[3].Text
		if !strings.Contains(core, "Shot: close-up. Mika draws her sword") {
			t.Errorf("コア指示が不正です: %s", core)
		}
	})

	t.Run("カメラアングルがショット指定の後に付くこと", func(t *testing.T) {
		in := fullInput()
		in.SubPanel.CameraAngle = "low\nangle"
		core := newTestAssembler().BuildGenerationRequest(in).Parts[3].Text
		if !strings.Contains(core, "Shot: close-up. Camera angle: low angle. Mika draws her sword") {
			t.Errorf("コア指示が不正です: %s", core)
		}
	})

	t.Run("カメラアングルが空なら出力しないこと", func(t *testing.T) {
		core := newTestAssembler().BuildGenerationRequest(fullInput()).Parts[3].Text
		if strings.Contains(core, "Camera angle") {
			t.Errorf("空のカメラアングルが出力されました: %s", core)
		}
	})
}

func TestAssembler_NarrativeWindow(t *testing.T) {
	t.Run("直前8件のうち最後の5件だけが Panel 1..5 として並ぶこと", func(t *testing.T) {
		in := GenerationInput{SubPanel: domain.SubPanel{Prompt: "now"}, Width: 1, Height: 1}
		for i := 1; i <= 8; i++ {
			in.NarrativeWindow = append(in.NarrativeWindow, fmt.Sprintf("P%d", i))
		}
		req := newTestAssembler().BuildGenerationRequest(in)
		block := req.Parts[0].Text
		want := narrativeHeader +
			"\nPanel 1 (PREVIOUS): P4" +
			"\nPanel 2 (PREVIOUS): P5" +
			"\nPanel 3 (PREVIOUS): P6" +
			"\nPanel 4 (PREVIOUS): P7" +
			"\nPanel 5 (PREVIOUS): P8"
		if block != want {
			t.Errorf("物語ウィンドウが不正です\n期待: %q\n実際: %q", want, block)
		}
	})
}

func TestAssembler_Placeholders(t *testing.T) {
	t.Run("プレースホルダーの画風は画像ではなく名前の指示になること", func(t *testing.T) {
		in := GenerationInput{
			SubPanel: domain.SubPanel{Prompt: "scene"},
			Width:    1, Height: 1,
			Styles: []domain.StyleReference{{ID: "st", Name: "Watercolor", Image: domain.PlaceholderPrefix + "Watercolor"}},
		}
		req := newTestAssembler().BuildGenerationRequest(in)
		foundText := false
		for _, p := range req.Parts {
			if p.IsImage() {
				t.Fatalf("プレースホルダーが画像として添付されました")
			}
			if strings.Contains(p.Text, `"Watercolor"`) {
				foundText = true
			}
		}
		if !foundText {
			t.Error("画風名のテキスト指示が見つかりません")
		}
	})

	t.Run("解釈できない参照画像は黙って除外されること", func(t *testing.T) {
		in := GenerationInput{
			SubPanel:        domain.SubPanel{Prompt: "scene"},
			Width:           1, Height: 1,
			ContinuityImage: "data:image/png;base64,!!!",
			Backgrounds:     []domain.BackgroundAsset{{Name: "Broken", Image: "https://example.com/x.png"}},
			Characters:      []domain.Character{{Name: "Mika", Image: "data:text/plain;base64,aGk="}},
		}
		req := newTestAssembler().BuildGenerationRequest(in)
		got := describe(req.Parts)
		want := []string{"### GLOBAL VISUAL STYLE ###", "CHARACTERS IN THIS PANEL: Mika", "### CHARACTER: Mika ###"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("期待: %q\n実際: %q", want, got)
		}
	})
}

func TestParseDataURL(t *testing.T) {
	t.Run("data URL をデコードできること", func(t *testing.T) {
		part, err := ParseDataURL(pngDataURL)
		if err != nil {
			t.Fatal(err)
		}
		if part.MimeType != "image/png" || len(part.Data) != 7 {
			t.Errorf("デコード結果が不正です: %+v", part)
		}
	})

	t.Run("デコーダーはキャッシュ済みでも同じ結果を返すこと", func(t *testing.T) {
		d := NewReferenceDecoder(time.Minute)
		p1, ok1 := d.Decode(pngDataURL)
		p2, ok2 := d.Decode(pngDataURL)
		if !ok1 || !ok2 || !reflect.DeepEqual(p1, p2) {
			t.Errorf("キャッシュ結果が一致しません")
		}
		if _, ok := d.Decode(domain.PlaceholderPrefix + "x"); ok {
			t.Error("プレースホルダーがデコードされました")
		}
	})
}
